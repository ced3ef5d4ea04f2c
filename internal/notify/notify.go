package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/topicrelay/internal/state"
)

// Delivery is one message on its way to a target.
type Delivery struct {
	Key       state.Key
	Title     string
	MessageID int
	Date      time.Time
	Text      string
}

// Payload renders the message the way it is posted to chat targets:
// bold topic title, blank line, message text.
func (d Delivery) Payload() string {
	return "*" + d.Title + "*\n\n" + d.Text
}

// Notifier delivers a single message. Implementations must not retry
// internally; the relay decides what a failure means.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// StatusError reports a target that answered with a non-success status.
type StatusError struct {
	Target string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Target, e.Code)
}

// Multi fans a delivery out to every notifier. All targets are attempted;
// failures are joined.
type Multi []Notifier

func (m Multi) Deliver(ctx context.Context, d Delivery) error {
	var errs []error
	for _, n := range m {
		if err := n.Deliver(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
