package client

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs n and always succeeds.
func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.log.Info().
		Str("recipient", n.Recipient).
		Str("template", n.TemplateKey).
		Interface("context", n.Context).
		Msg("notification")
	return nil
}

// FallbackNotifier tries primary first and falls back when it fails.
type FallbackNotifier struct {
	primary  Notifier
	fallback Notifier
	log      zerolog.Logger
}

// NewFallbackNotifier wraps primary with fallback. A nil fallback disables it.
func NewFallbackNotifier(primary, fallback Notifier, log zerolog.Logger) *FallbackNotifier {
	return &FallbackNotifier{primary: primary, fallback: fallback, log: log}
}

// Notify delivers through primary, then fallback.
func (f *FallbackNotifier) Notify(ctx context.Context, n Notification) error {
	err := f.primary.Notify(ctx, n)
	if err == nil {
		return nil
	}
	if f.fallback == nil {
		return err
	}

	f.log.Warn().Err(err).
		Str("template", n.TemplateKey).
		Str("recipient", n.Recipient).
		Msg("notification: primary provider failed, using fallback")

	if ferr := f.fallback.Notify(ctx, n); ferr != nil {
		return fmt.Errorf("primary: %v; fallback: %w", err, ferr)
	}
	return nil
}
