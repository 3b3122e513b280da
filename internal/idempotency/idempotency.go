package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/ticketing-events/internal/adapters/redis"
)

// Store is satisfied by the redis idempotency adapter.
type Store interface {
	Begin(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (*redisadapter.StoredResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.StoredResponse, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

type Outcome int

const (
	// Proceed: the caller owns the key and must Save or Release it.
	Proceed Outcome = iota
	// Replay: a finished response is returned.
	Replay
	// InFlight: another request with the key is still running.
	InFlight
)

func (i *Idempotency) Claim(ctx context.Context, key string) (Outcome, *Response, error) {
	claimed, err := i.store.Begin(ctx, key, i.ttl)
	if err != nil {
		return Proceed, nil, err
	}
	if claimed {
		return Proceed, nil, nil
	}
	stored, err := i.store.Get(ctx, key)
	if err != nil {
		return Proceed, nil, err
	}
	if stored == nil {
		return InFlight, nil, nil
	}
	return Replay, &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Body}, nil
}

func (i *Idempotency) Save(ctx context.Context, key string, resp Response) error {
	return i.store.Set(ctx, key, redisadapter.StoredResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Body:        resp.Result,
	}, i.ttl)
}

// Release forgets key so a failed request can be retried with it.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.store.Abandon(ctx, key)
}
