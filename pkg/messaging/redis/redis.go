package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/referral-api/pkg/circuitbreaker"
	"github.com/jwalitptl/referral-api/pkg/messaging"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

type Config struct {
	URL          string
	Queue        string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
}

// RedisQueue is a list-backed queue: LPUSH to enqueue, BRPOP to dequeue.
type RedisQueue struct {
	client  *redis.Client
	key     string
	cb      *circuitbreaker.CircuitBreaker
	logger  *zerolog.Logger
	metrics *metrics.Metrics
}

func NewClient(config Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisQueue(client *redis.Client, queue string, logger *zerolog.Logger, m *metrics.Metrics) *RedisQueue {
	if queue == "" {
		queue = "referral:batches"
	}
	return &RedisQueue{
		client: client,
		key:    queue,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "redis-queue",
			MaxFailures: 5,
			Timeout:     5 * time.Second,
		}),
		logger:  logger,
		metrics: m,
	}
}

func (q *RedisQueue) observe(op string, start time.Time, err error) {
	if q.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	q.metrics.RedisOperations.WithLabelValues(op, status).Inc()
	q.metrics.RedisLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) error {
	start := time.Now()
	err := q.cb.Execute(func() error {
		return q.client.LPush(ctx, q.key, payload).Err()
	})
	q.observe("lpush", start, err)
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	start := time.Now()
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, messaging.ErrEmpty
	}
	q.observe("brpop", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue message: %w", err)
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		q.logger.Warn().Int("len", len(res)).Msg("unexpected BRPOP reply")
		return nil, messaging.ErrEmpty
	}
	return []byte(res[1]), nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// RedisLocker implements messaging.Locker with SET NX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "referral:lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+key).Err()
}

var (
	_ messaging.Queue  = (*RedisQueue)(nil)
	_ messaging.Locker = (*RedisLocker)(nil)
)
