package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	discordContentLimit     = 2000
	discordDescriptionLimit = 4096
	discordEllipsis         = "..."
	defaultDiscordUserAgent = "slot-sentinel (https://github.com/nholik/slot-sentinel, 1.0)"
)

// Mention selects who a Discord message pings. UserID wins over Everyone, which
// wins over Here.
type Mention struct {
	UserID   string
	Everyone bool
	Here     bool
}

type discordAllowedMentions struct {
	Parse []string `json:"parse"`
	Users []string `json:"users,omitempty"`
}

// content returns the mention prefix and the matching allowed_mentions object.
// @here needs the "everyone" parse entry to ping at all.
func (m Mention) content() (string, discordAllowedMentions) {
	switch {
	case m.UserID != "":
		return fmt.Sprintf("<@%s>", m.UserID), discordAllowedMentions{Parse: []string{}, Users: []string{m.UserID}}
	case m.Everyone:
		return "@everyone", discordAllowedMentions{Parse: []string{"everyone"}}
	case m.Here:
		return "@here", discordAllowedMentions{Parse: []string{"everyone"}}
	default:
		return "", discordAllowedMentions{Parse: []string{}}
	}
}

// DiscordOptions configures the Discord webhook sink.
type DiscordOptions struct {
	Mention   Mention
	ThreadID  string
	Wait      bool
	UserAgent string
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Footer      *discordFooter `json:"footer,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Content         string                 `json:"content,omitempty"`
	Embeds          []discordEmbed         `json:"embeds,omitempty"`
	AllowedMentions discordAllowedMentions `json:"allowed_mentions"`
}

// DiscordNotifier posts embeds to a Discord webhook, falling back to plain text.
type DiscordNotifier struct {
	logger zerolog.Logger
	opts   DiscordOptions
	timing timingConfig
	now    func() time.Time
	poster *webhookPoster
}

// DiscordOption customizes DiscordNotifier behavior.
type DiscordOption func(*DiscordNotifier)

// WithDiscordTiming overrides timing parameters (primarily for testing).
func WithDiscordTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) DiscordOption {
	return func(d *DiscordNotifier) {
		d.timing.rateInterval = rateInterval
		d.timing.rateBurst = rateBurst
		d.timing.backoffInitial = backoffInitial
		d.timing.backoffMax = backoffMax
		d.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewDiscordNotifier creates a Discord notifier or a noop notifier when the webhook is empty.
func NewDiscordNotifier(logger zerolog.Logger, webhookURL string, opts DiscordOptions, options ...DiscordOption) (Notifier, error) {
	if webhookURL == "" {
		return NewNoop(logger, "discord webhook not configured; discord notifications disabled"), nil
	}
	target, err := discordURL(webhookURL, opts)
	if err != nil {
		return nil, err
	}

	notifier := &DiscordNotifier{
		logger: logger,
		opts:   opts,
		timing: defaultTiming,
		now:    time.Now,
	}
	for _, opt := range options {
		opt(notifier)
	}

	notifier.poster = newWebhookPoster(logger, "discord", target, "application/json", notifier.timing)
	notifier.poster.userAgent = opts.UserAgent
	if notifier.poster.userAgent == "" {
		notifier.poster.userAgent = defaultDiscordUserAgent
	}
	return notifier, nil
}

func discordURL(webhookURL string, opts DiscordOptions) (string, error) {
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return "", fmt.Errorf("invalid discord webhook url: %w", err)
	}
	query := parsed.Query()
	if opts.Wait {
		query.Set("wait", "true")
	}
	if opts.ThreadID != "" {
		query.Set("thread_id", opts.ThreadID)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Notify implements Notifier. Each message is tried as an embed first; a failed embed
// is resent as plain text chunks.
func (n *DiscordNotifier) Notify(ctx context.Context, messages []Message) error {
	var errs []error
	for _, message := range messages {
		if err := n.poster.throttle(ctx, message.Facility); err != nil {
			return err
		}
		err := n.sendEmbed(ctx, message)
		if err == nil {
			n.logger.Debug().Str("facility", message.Facility).Int("days", message.Days).Msg("discord notification sent")
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		n.logger.Warn().Err(err).Str("facility", message.Facility).Msg("discord embed failed, sending plain text")

		if plainErr := n.sendPlain(ctx, message); plainErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			errs = append(errs, &DeliveryError{Sink: "discord", Facility: message.Facility, Err: errors.Join(err, plainErr)})
		}
	}
	return errors.Join(errs...)
}

func (n *DiscordNotifier) sendEmbed(ctx context.Context, message Message) error {
	content, allowed := n.opts.Mention.content()
	embed := discordEmbed{
		Title:       message.Title,
		Description: truncateRunes(message.Description(), discordDescriptionLimit),
		Color:       message.Color,
		Timestamp:   n.now().UTC().Format(time.RFC3339),
	}
	if message.Footer != "" {
		embed.Footer = &discordFooter{Text: message.Footer}
	}
	return n.post(ctx, discordPayload{Content: content, Embeds: []discordEmbed{embed}, AllowedMentions: allowed})
}

func (n *DiscordNotifier) sendPlain(ctx context.Context, message Message) error {
	content, allowed := n.opts.Mention.content()
	text := fmt.Sprintf("**%s**\n%s", message.Title, message.Description())
	prefix := ""
	if content != "" {
		prefix = content + "\n"
	}
	// Every chunk carries the mention.
	for _, chunk := range splitContent(text, discordContentLimit-len([]rune(prefix))) {
		if err := n.post(ctx, discordPayload{Content: prefix + chunk, AllowedMentions: allowed}); err != nil {
			return err
		}
	}
	return nil
}

func (n *DiscordNotifier) post(ctx context.Context, payload discordPayload) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	return n.poster.post(ctx, encoded)
}

// splitContent cuts s into chunks of at most limit characters, preferring to break
// at the last newline, then the last space, inside each window.
func splitContent(s string, limit int) []string {
	runes := []rune(s)
	parts := make([]string, 0, len(runes)/limit+1)
	for len(runes) > limit {
		window := string(runes[:limit])
		cut := strings.LastIndex(window, "\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, " ")
		}
		var head string
		if cut <= 0 {
			head = window
			runes = runes[limit:]
		} else {
			head = window[:cut]
			runes = runes[len([]rune(head)):]
		}
		parts = append(parts, head)
		runes = []rune(strings.TrimLeft(string(runes), " \n"))
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	keep := limit - len([]rune(discordEllipsis))
	return string(runes[:keep]) + discordEllipsis
}
