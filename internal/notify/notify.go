// Package notify fans manual review reports out to several notifiers.
package notify

import (
	"context"
	"errors"

	"github.com/linnemanlabs/settle/internal/resolution"
)

// Multi delivers a report to every notifier in order. All notifiers are
// attempted; their errors are joined.
type Multi []resolution.Notifier

// Notify implements resolution.Notifier.
func (m Multi) Notify(ctx context.Context, r *resolution.Report) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
