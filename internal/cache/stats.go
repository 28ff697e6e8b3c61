package cache

import (
	"context"
	"strconv"
	"time"

	"ebs-gateway/internal/gateway"

	"github.com/go-redis/redis/v8"
)

// StatsRecorder counts gateway outcomes in Redis hashes: a running total, a
// per-minute bucket and a per-credential bucket.
type StatsRecorder struct {
	client *redis.Client
	tasks  gateway.Dispatcher
	prefix string
	ttl    time.Duration
}

func NewStatsRecorder(client *redis.Client, tasks gateway.Dispatcher, ttl time.Duration) *StatsRecorder {
	return &StatsRecorder{
		client: client,
		tasks:  tasks,
		prefix: "gateway:stats",
		ttl:    ttl,
	}
}

// Observe queues the write on the task runner so the request never waits on
// Redis.
func (s *StatsRecorder) Observe(ev gateway.Event) {
	s.tasks.Dispatch("redis_stats", func(ctx context.Context) error {
		return s.Record(ctx, ev)
	})
}

func (s *StatsRecorder) Record(ctx context.Context, ev gateway.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := ev.Outcome

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := s.prefix + ":minute:" + at.UTC().Format("200601021504")
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if ev.CredentialID > 0 {
		credKey := s.prefix + ":credential:" + strconv.FormatInt(ev.CredentialID, 10)
		pipe.HIncrBy(ctx, credKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, credKey, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals returns the running outcome counters.
func (s *StatsRecorder) Totals(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
