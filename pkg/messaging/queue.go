package messaging

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Dequeue when no message arrived before the timeout.
	ErrEmpty  = errors.New("queue is empty")
	ErrClosed = errors.New("queue is closed")
)

// Queue is a FIFO work queue. Messages are opaque byte slices.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error)
	Len(ctx context.Context) (int64, error)
	Close() error
}

// Locker guards a named resource across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
