// Package notify delivers human-readable text to operators. Delivery is best
// effort: callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotConfigured is returned by notifiers that have no destination.
var ErrNotConfigured = errors.New("notifier not configured")

// Notifier delivers a text message.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, text string) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, text string) error {
	return f(ctx, text)
}

// LogNotifier writes messages to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a Notifier that logs at info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, text string) error {
	n.logger.Info("notification", slog.String("text", text))
	return nil
}

// Multi fans a message out to every notifier and joins their errors. With no
// notifier to deliver to it returns ErrNotConfigured.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, text string) error {
	var errs []error
	targets := 0
	for _, n := range m {
		if n == nil {
			continue
		}
		targets++
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	if targets == 0 {
		return ErrNotConfigured
	}
	return errors.Join(errs...)
}

// Send delivers text through n and reports whether it succeeded. Errors and
// panics are logged, never propagated.
func Send(ctx context.Context, n Notifier, logger *slog.Logger, text string) (ok bool) {
	if n == nil {
		return false
	}
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notifier panicked", slog.Any("panic", fmt.Sprint(r)))
			ok = false
		}
	}()
	if err := n.Notify(ctx, text); err != nil {
		logger.Warn("notification delivery failed", slog.Any("error", err))
		return false
	}
	return true
}
