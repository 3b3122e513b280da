package versioning

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/robertarktes/ticketing-events/internal/domain"
	"github.com/robertarktes/ticketing-events/internal/events"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		local   int64
		event   int64
		wantErr error
	}{
		{"next version applies", 0, 1, nil},
		{"next version applies later on", 4, 5, nil},
		{"duplicate", 1, 1, ErrAlreadyApplied},
		{"old event", 5, 2, ErrAlreadyApplied},
		{"skipped version", 1, 10, ErrNotYetApplicable},
		{"one ahead", 0, 2, ErrNotYetApplicable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.local, tt.event)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if events.IsPermanent(err) {
				t.Fatalf("gate mismatch must be retryable, got %v", err)
			}
		})
	}
}

func TestCheck_InvalidEventVersionIsPermanent(t *testing.T) {
	if err := Check(0, 0); !events.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestGate_MissingReplicaIsNotYetApplicable(t *testing.T) {
	_, err := Gate(context.Background(), func(context.Context) (*domain.Ticket, error) {
		return nil, domain.ErrNotFound
	}, 1)
	if !errors.Is(err, ErrNotYetApplicable) {
		t.Fatalf("expected ErrNotYetApplicable, got %v", err)
	}
}

// replica mimics a listener: it applies an event only when the gate opens and
// bumps the version the way a compare-and-swap write would.
type replica struct {
	ticket  domain.Ticket
	applied []int64
}

func (r *replica) deliver(version int64, title string) error {
	ticket, err := Gate(context.Background(), func(context.Context) (*domain.Ticket, error) {
		t := r.ticket
		return &t, nil
	}, version)
	if err != nil {
		return err
	}
	ticket.Title = title
	ticket.Version++
	r.ticket = *ticket
	r.applied = append(r.applied, version)
	return nil
}

func TestGate_AnyDeliveryOrderConvergesOnVersionOrder(t *testing.T) {
	const n = 8
	titles := make([]string, n+1)
	for v := 1; v <= n; v++ {
		titles[v] = uuid.NewString()
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		r := &replica{ticket: domain.Ticket{ID: uuid.New(), Title: "v0"}}

		// Every event delivered twice, shuffled; unacked ones go back on the queue.
		var queue []int64
		for v := int64(1); v <= n; v++ {
			queue = append(queue, v, v)
		}
		rng.Shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })

		for steps := 0; len(queue) > 0; steps++ {
			if steps > 10000 {
				t.Fatal("redelivery did not converge")
			}
			v := queue[0]
			queue = queue[1:]
			err := r.deliver(v, titles[v])
			switch {
			case err == nil, errors.Is(err, ErrAlreadyApplied):
			case errors.Is(err, ErrNotYetApplicable):
				queue = append(queue, v)
			default:
				t.Fatalf("unexpected error %v", err)
			}
		}

		if r.ticket.Version != n {
			t.Fatalf("expected version %d, got %d", n, r.ticket.Version)
		}
		if r.ticket.Title != titles[n] {
			t.Fatalf("expected final title from version %d", n)
		}
		for i, v := range r.applied {
			if v != int64(i+1) {
				t.Fatalf("applied out of order: %v", r.applied)
			}
		}
	}
}
