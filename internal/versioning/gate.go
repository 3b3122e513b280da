// Package versioning implements the version gate listeners run before applying
// a cross-service event to a local replica.
//
// Every persisted mutation of a versioned entity increments its version by
// exactly one (the repositories enforce this with a compare-and-swap on the
// version column). An event carries the version produced by the mutation it
// describes, so it applies only to a replica sitting at version-1. Anything
// else is either a duplicate or arrived ahead of an event it depends on.
package versioning

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/events"
)

var (
	// ErrAlreadyApplied means the replica already reflects the event.
	// Handlers acknowledge without mutating or publishing.
	ErrAlreadyApplied = errors.New("event already applied")
	// ErrNotYetApplicable means an earlier event for the entity is still
	// missing. Handlers leave the message unacknowledged so it is redelivered.
	ErrNotYetApplicable = errors.New("event not yet applicable")
)

type Versioned interface {
	CurrentVersion() int64
}

// Check compares a replica version with the version carried by an event.
func Check(local, event int64) error {
	if event < 1 {
		return events.Permanent(errors.Newf("event version %d cannot update a replica", event))
	}
	prior := event - 1
	switch {
	case local == prior:
		return nil
	case local >= event:
		return errors.Wrapf(ErrAlreadyApplied, "replica at %d, event %d", local, event)
	default:
		return errors.Wrapf(ErrNotYetApplicable, "replica at %d, event %d needs %d", local, event, prior)
	}
}

// Gate loads the replica and checks it against eventVersion. A missing replica
// is not yet applicable: the event that creates it has not been applied.
func Gate[T Versioned](ctx context.Context, load func(context.Context) (T, error), eventVersion int64) (T, error) {
	entity, err := load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		var zero T
		return zero, errors.Wrapf(ErrNotYetApplicable, "replica missing for event version %d", eventVersion)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	if err := Check(entity.CurrentVersion(), eventVersion); err != nil {
		return entity, err
	}
	return entity, nil
}
