package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"facility":{{ toJson .Facility }},"title":{{ toJson .Title }},"days":{{ .Days }},"lines":{{ toJson .Lines }},"text":{{ toJson .Text }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Facility    string
	Title       string
	Color       int
	Days        int
	Lines       []string
	Text        string
	GeneratedAt time.Time
}

// WebhookNotifier sends composed messages to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *webhookPoster
	now      func() time.Time
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newWebhookPoster(logger, "webhook", webhookURL, "application/json", defaultTiming),
		now:      time.Now,
	}, nil
}

// Notify implements Notifier. One request is sent per message.
func (n *WebhookNotifier) Notify(ctx context.Context, messages []Message) error {
	if n == nil || len(messages) == 0 {
		return nil
	}

	var errs []error
	for _, message := range messages {
		if err := n.poster.throttle(ctx, message.Facility); err != nil {
			return err
		}

		payload := WebhookPayload{
			Facility:    message.Facility,
			Title:       message.Title,
			Color:       message.Color,
			Days:        message.Days,
			Lines:       message.Lines,
			Text:        message.Plain(),
			GeneratedAt: n.now().UTC(),
		}

		var buf bytes.Buffer
		if err := n.template.Execute(&buf, payload); err != nil {
			return fmt.Errorf("render webhook template: %w", err)
		}

		if err := n.poster.post(ctx, buf.Bytes()); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			errs = append(errs, &DeliveryError{Sink: "webhook", Facility: message.Facility, Err: err})
			continue
		}

		n.logger.Debug().
			Str("facility", message.Facility).
			Int("days", message.Days).
			Msg("webhook notification sent")
	}
	return errors.Join(errs...)
}
