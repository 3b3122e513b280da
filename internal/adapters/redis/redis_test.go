package redis_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	redisclient "github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/ticketing-events/internal/adapters/redis"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*redisclient.Client, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("redis test skipped in short mode")
	}
	ctx := context.Background()

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	addr, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	client := redisclient.NewClient(&redisclient.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client, ctx
}

func TestJobStore_ClaimsOnlyDueJobs(t *testing.T) {
	client, ctx := setupRedis(t)
	store := redisadapter.NewJobStore(client, "expiration")

	now := time.Now().Truncate(time.Millisecond)
	due := redisadapter.Job{OrderID: uuid.New(), DueAt: now.Add(-time.Second)}
	later := redisadapter.Job{OrderID: uuid.New(), DueAt: now.Add(time.Hour)}

	for _, job := range []redisadapter.Job{due, later} {
		added, err := store.Put(ctx, job)
		if err != nil || !added {
			t.Fatalf("expected job added, got added=%v err=%v", added, err)
		}
	}
	added, err := store.Put(ctx, redisadapter.Job{OrderID: due.OrderID, DueAt: now.Add(time.Minute)})
	if err != nil || added {
		t.Fatalf("expected second put for the same order to be a no-op, got added=%v err=%v", added, err)
	}

	jobs, err := store.Claim(ctx, now, 30*time.Second, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].OrderID != due.OrderID {
		t.Fatalf("expected only the due job, got %+v", jobs)
	}
	if !jobs[0].DueAt.Equal(due.DueAt) || jobs[0].Attempts != 1 {
		t.Fatalf("unexpected job %+v", jobs[0])
	}

	again, err := store.Claim(ctx, now, 30*time.Second, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("expected leased job to stay hidden, got %+v", again)
	}

	afterLease, err := store.Claim(ctx, now.Add(31*time.Second), 30*time.Second, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(afterLease) != 1 || afterLease[0].Attempts != 2 {
		t.Fatalf("expected job reclaimed after lease, got %+v", afterLease)
	}

	if err := store.Complete(ctx, due.OrderID); err != nil {
		t.Fatal(err)
	}
	pending, err := store.Pending(ctx)
	if err != nil || pending != 1 {
		t.Fatalf("expected 1 pending job, got %d err=%v", pending, err)
	}
}

func TestIdempotency_StoresResponse(t *testing.T) {
	client, ctx := setupRedis(t)
	idemp := redisadapter.NewIdempotency(client)

	first, err := idemp.Begin(ctx, "key-1", time.Minute)
	if err != nil || !first {
		t.Fatalf("expected first claim, got %v err=%v", first, err)
	}
	second, err := idemp.Begin(ctx, "key-1", time.Minute)
	if err != nil || second {
		t.Fatalf("expected second claim to fail, got %v err=%v", second, err)
	}
	resp, err := idemp.Get(ctx, "key-1")
	if err != nil || resp != nil {
		t.Fatalf("expected no response while in flight, got %+v err=%v", resp, err)
	}

	want := redisadapter.StoredResponse{Status: http.StatusCreated, ContentType: "application/json", Body: []byte(`{"id":"1"}`)}
	if err := idemp.Set(ctx, "key-1", want, time.Minute); err != nil {
		t.Fatal(err)
	}
	resp, err = idemp.Get(ctx, "key-1")
	if err != nil || resp == nil {
		t.Fatalf("expected stored response, got %+v err=%v", resp, err)
	}
	if resp.Status != want.Status || string(resp.Body) != string(want.Body) {
		t.Fatalf("expected %+v, got %+v", want, resp)
	}
}

func TestCache_CountInWindow(t *testing.T) {
	client, ctx := setupRedis(t)
	cache := redisadapter.NewCache(client)

	for i := int64(1); i <= 3; i++ {
		n, err := cache.CountInWindow(ctx, "user:1", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Fatalf("expected count %d, got %d", i, n)
		}
	}
	ttl, err := client.TTL(ctx, "rl:user:1").Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("expected window expiry, got %v err=%v", ttl, err)
	}
}
