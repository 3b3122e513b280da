package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is a delayed expiration for one order.
type Job struct {
	OrderID  uuid.UUID
	DueAt    time.Time
	Attempts int
}

// JobStore keeps delayed jobs in a sorted set scored by the time they may next
// run, plus one hash per job. Claiming a job pushes its score out by a lease so
// a crashed worker's job becomes claimable again.
type JobStore struct {
	client *redis.Client
	queue  string
}

func NewJobStore(client *redis.Client, queue string) *JobStore {
	return &JobStore{client: client, queue: queue}
}

func (s *JobStore) dueKey() string { return s.queue + ":due" }

func (s *JobStore) jobKey(id uuid.UUID) string { return s.queue + ":job:" + id.String() }

// Put stores job unless one already exists for the order. It reports whether
// the job was added.
func (s *JobStore) Put(ctx context.Context, job Job) (bool, error) {
	var added *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.ZAddNX(ctx, s.dueKey(), redis.Z{
			Score:  float64(job.DueAt.UnixMilli()),
			Member: job.OrderID.String(),
		})
		pipe.HSetNX(ctx, s.jobKey(job.OrderID), "due_at", job.DueAt.UnixMilli())
		pipe.HSetNX(ctx, s.jobKey(job.OrderID), "attempts", 0)
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "put job %s", job.OrderID)
	}
	return added.Val() == 1, nil
}

var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
	redis.call('ZADD', KEYS[1], 'XX', ARGV[2], id)
end
return ids
`)

// Claim returns up to limit jobs due at now and leases them until now+lease.
func (s *JobStore) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Job, error) {
	ids, err := claimScript.Run(ctx, s.client, []string{s.dueKey()},
		now.UnixMilli(), now.Add(lease).UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, errors.Wrap(err, "claim jobs")
	}

	jobs := make([]Job, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			// not ours; drop it so it does not block the queue
			s.client.ZRem(ctx, s.dueKey(), raw)
			continue
		}
		fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "load job %s", id)
		}
		attempts, err := s.client.HIncrBy(ctx, s.jobKey(id), "attempts", 1).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "count attempt for %s", id)
		}
		dueMs, _ := strconv.ParseInt(fields["due_at"], 10, 64)
		jobs = append(jobs, Job{
			OrderID:  id,
			DueAt:    time.UnixMilli(dueMs).UTC(),
			Attempts: int(attempts),
		})
	}
	return jobs, nil
}

func (s *JobStore) Complete(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.dueKey(), orderID.String())
		pipe.Del(ctx, s.jobKey(orderID))
		return nil
	})
	return errors.Wrapf(err, "complete job %s", orderID)
}

func (s *JobStore) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.dueKey()).Result()
}
