// ABOUTME: Notifier combinators shared by the escalation channels
// ABOUTME: Fanout delivers through several transports and succeeds when any of them does
package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/harper/auticonnect-mediator/internal/models"
)

// Fanout sends through every notifier; it fails only when all of them fail
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, recipient string, ev models.EscalationEvent) error {
	if len(f) == 0 {
		return errors.New("no notifiers configured")
	}
	var errs []error
	ok := false
	for i, n := range f {
		if err := n.Notify(ctx, recipient, ev); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
			continue
		}
		ok = true
	}
	if ok {
		return nil
	}
	return errors.Join(errs...)
}
