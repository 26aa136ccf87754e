package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Notifier delivers one message with a subject line and a plain-text body.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
	Name() string
}

// LogNotifier writes messages to the process log. Used when no transport is configured.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Send(_ context.Context, subject, body string) error {
	log.Printf("[INFO] notification %q:\n%s", subject, body)
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Send(ctx context.Context, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
