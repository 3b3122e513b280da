package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	redisadapter "github.com/robertarktes/ticketing-events/internal/adapters/redis"
)

type memStore struct {
	claimed map[string]bool
	stored  map[string]redisadapter.StoredResponse
}

func newMemStore() *memStore {
	return &memStore{claimed: map[string]bool{}, stored: map[string]redisadapter.StoredResponse{}}
}

func (m *memStore) Begin(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if m.claimed[key] {
		return false, nil
	}
	m.claimed[key] = true
	return true, nil
}

func (m *memStore) Get(ctx context.Context, key string) (*redisadapter.StoredResponse, error) {
	resp, ok := m.stored[key]
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (m *memStore) Set(ctx context.Context, key string, resp redisadapter.StoredResponse, ttl time.Duration) error {
	m.stored[key] = resp
	return nil
}

func (m *memStore) Abandon(ctx context.Context, key string) error {
	delete(m.claimed, key)
	delete(m.stored, key)
	return nil
}

func TestIdempotency_ClaimSaveReplay(t *testing.T) {
	idemp := NewIdempotency(newMemStore(), time.Hour)
	ctx := context.Background()

	outcome, _, err := idemp.Claim(ctx, "k")
	if err != nil || outcome != Proceed {
		t.Fatalf("expected Proceed, got %v err=%v", outcome, err)
	}
	outcome, _, _ = idemp.Claim(ctx, "k")
	if outcome != InFlight {
		t.Fatalf("expected InFlight, got %v", outcome)
	}

	if err := idemp.Save(ctx, "k", Response{Status: http.StatusCreated, ContentType: "application/json", Result: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}
	outcome, resp, err := idemp.Claim(ctx, "k")
	if err != nil || outcome != Replay || resp.Status != http.StatusCreated {
		t.Fatalf("expected replay of 201, got %v %+v err=%v", outcome, resp, err)
	}
}

func TestIdempotency_ReleaseAllowsRetry(t *testing.T) {
	idemp := NewIdempotency(newMemStore(), time.Hour)
	ctx := context.Background()

	if outcome, _, _ := idemp.Claim(ctx, "k"); outcome != Proceed {
		t.Fatal("expected first claim to proceed")
	}
	if err := idemp.Release(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if outcome, _, _ := idemp.Claim(ctx, "k"); outcome != Proceed {
		t.Fatal("expected claim after release to proceed")
	}
}
