package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

type StoredResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

const inFlight = "in-flight"

// Begin claims key for a request. It reports false when the key was already
// claimed, either by a finished request or one still running.
func (i *Idempotency) Begin(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return i.client.SetNX(ctx, "idemp:"+key, inFlight, ttl).Result()
}

// Get returns the stored response for key, or nil while the first request is
// still running or when nothing was stored.
func (i *Idempotency) Get(ctx context.Context, key string) (*StoredResponse, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if errors.Is(err, redis.Nil) || string(val) == inFlight {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp StoredResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, errors.Wrap(err, "decode stored response")
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, "idemp:"+key, data, ttl).Err()
}

// Abandon drops the claim so the request can be retried.
func (i *Idempotency) Abandon(ctx context.Context, key string) error {
	return i.client.Del(ctx, "idemp:"+key).Err()
}
