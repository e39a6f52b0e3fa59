package trigger

import "context"

// Store is the durable persistence boundary for trigger records. The
// scheduler and the trigger tools consume it; implementations own the
// on-disk format.
type Store interface {
	Create(ctx context.Context, t *Trigger) error
	Get(ctx context.Context, id string) (*Trigger, error)
	Update(ctx context.Context, t *Trigger) error
	Delete(ctx context.Context, id string) error

	// ListActive returns every non-terminal trigger, ordered by NextFireAt.
	ListActive(ctx context.Context) ([]*Trigger, error)

	// ListByAgent returns all triggers owned by an agent, newest first.
	ListByAgent(ctx context.Context, agentID string) ([]*Trigger, error)

	Close() error
}
