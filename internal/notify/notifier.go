package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Notifier delivers composed messages to an external system.
type Notifier interface {
	Notify(ctx context.Context, messages []Message) error
}

// DeliveryError reports that a sink could not deliver a message, including any fallback.
type DeliveryError struct {
	Sink     string
	Facility string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery for %s failed: %v", e.Sink, e.Facility, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// MultiNotifier hands every message batch to each configured sink in turn.
type MultiNotifier struct {
	sinks []Notifier
}

// NewMultiNotifier drops nil sinks.
func NewMultiNotifier(sinks ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, sink := range sinks {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *MultiNotifier) Len() int {
	return len(m.sinks)
}

// Notify implements Notifier. A failing sink does not keep the others from
// running; cancellation stops the fan-out.
func (m *MultiNotifier) Notify(ctx context.Context, messages []Message) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.Notify(ctx, messages); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DryRunNotifier logs the plain rendering of every message instead of sending it.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier wraps inner, which is never called.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger.With().Bool("dry_run", true).Logger(), inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, messages []Message) error {
	for _, message := range messages {
		n.logger.Info().
			Str("facility", message.Facility).
			Int("days", message.Days).
			Str("text", message.Plain()).
			Msg("notification not sent")
	}
	return nil
}

// NoopNotifier discards messages.
type NoopNotifier struct {
	logger zerolog.Logger
}

// NewNoop logs reason once, when non-empty.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *NoopNotifier) Notify(_ context.Context, messages []Message) error {
	if len(messages) > 0 {
		n.logger.Debug().Int("messages", len(messages)).Msg("notifications discarded")
	}
	return nil
}
