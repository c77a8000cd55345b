package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header block + context block in each message
	slackReservedBlocks = 2
	slackMaxSections    = slackMaxBlocks - slackReservedBlocks
	slackSectionLimit   = 3000
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	mention    string
	timing     timingConfig
	poster     *webhookPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// WithSlackMention pings m in every message: a member id becomes <@U…>,
// Everyone becomes <!channel> and Here becomes <!here>.
func WithSlackMention(m Mention) SlackOption {
	return func(s *SlackNotifier) {
		s.mention = m.slack()
	}
}

// slack renders the mention in Slack's mrkdwn syntax, with the same precedence
// as Discord.
func (m Mention) slack() string {
	switch {
	case m.UserID != "":
		return fmt.Sprintf("<@%s>", m.UserID)
	case m.Everyone:
		return "<!channel>"
	case m.Here:
		return "<!here>"
	default:
		return ""
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newWebhookPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier. A message whose blocks are rejected is resent as plain text.
func (n *SlackNotifier) Notify(ctx context.Context, messages []Message) error {
	var errs []error
	for _, message := range messages {
		if err := n.poster.throttle(ctx, message.Facility); err != nil {
			return err
		}

		if err := n.sendBlocks(ctx, message); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			n.logger.Warn().Err(err).Str("facility", message.Facility).Msg("slack blocks rejected, sending plain text")
			if plainErr := n.send(ctx, slack.WebhookMessage{Text: n.withMention(message.Plain())}); plainErr != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				errs = append(errs, &DeliveryError{Sink: "slack", Facility: message.Facility, Err: errors.Join(err, plainErr)})
			}
			continue
		}

		n.logger.Debug().
			Str("facility", message.Facility).
			Int("days", message.Days).
			Msg("slack notification sent")
	}
	return errors.Join(errs...)
}

func (n *SlackNotifier) sendBlocks(ctx context.Context, message Message) error {
	for _, payload := range buildSlackMessages(message) {
		payload.Text = n.withMention(payload.Text)
		if err := n.send(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

func (n *SlackNotifier) withMention(text string) string {
	if n.mention == "" {
		return text
	}
	return n.mention + " " + text
}

func (n *SlackNotifier) send(ctx context.Context, message slack.WebhookMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	return n.poster.post(ctx, payload)
}

// buildSlackMessages groups a message's lines into day sections and splits them
// across webhook payloads so no payload exceeds the block limit.
func buildSlackMessages(message Message) []slack.WebhookMessage {
	sections := groupDaySections(message.Lines)
	if len(sections) == 0 {
		return nil
	}

	total := len(sections)
	chunkTotal := (total + slackMaxSections - 1) / slackMaxSections
	out := make([]slack.WebhookMessage, 0, chunkTotal)
	for i := 0; i < total; i += slackMaxSections {
		end := i + slackMaxSections
		if end > total {
			end = total
		}
		partIndex := (i / slackMaxSections) + 1
		out = append(out, buildSlackMessage(message, sections[i:end], partIndex, chunkTotal))
	}
	return out
}

func buildSlackMessage(message Message, sections []string, partIndex, partTotal int) slack.WebhookMessage {
	summary := message.Title
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (%d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))

	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("改善日数: *%d*", message.Days), false, false),
	}
	if message.Footer != "" {
		contextElements = append(contextElements, slack.NewTextBlockObject("plain_text", message.Footer, false, false))
	}
	footer := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header}
	for _, section := range sections {
		text := slack.NewTextBlockObject("mrkdwn", truncateRunes(section, slackSectionLimit), false, false)
		blocks = append(blocks, slack.NewSectionBlock(text, nil, nil))
	}
	blocks = append(blocks, footer)

	return slack.WebhookMessage{
		Text: summary,
		Attachments: []slack.Attachment{{
			Color:    fmt.Sprintf("#%06X", message.Color),
			Fallback: message.Plain(),
			Blocks:   slack.Blocks{BlockSet: blocks},
		}},
	}
}

// groupDaySections joins each day line with the slot lines that follow it.
func groupDaySections(lines []string) []string {
	sections := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(line, slotLinePrefix) && len(sections) > 0 {
			sections[len(sections)-1] += "\n" + line
			continue
		}
		sections = append(sections, line)
	}
	return sections
}
