package resolution

import "context"

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 20

// Store is the persistence interface for resolve runs. Get returns
// ok=false with a nil error when the run does not exist. List returns the
// most recent runs first.
type Store interface {
	Put(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, bool, error)
	List(ctx context.Context, limit int) ([]*Run, error)
}
