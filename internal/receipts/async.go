package receipts

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"dmsrelay/pkg/logger"
)

// DefaultPoolSize bounds concurrent publishes.
const DefaultPoolSize = 16

// DefaultPublishTimeout bounds a single background publish.
const DefaultPublishTimeout = 10 * time.Second

// AsyncPublisher hands publishes to a goroutine pool so callers never wait
// on the broker. Publish only fails when the pool rejects the task.
type AsyncPublisher struct {
	next    Publisher
	pool    *ants.Pool
	timeout time.Duration
	log     zerolog.Logger
}

// NewAsyncPublisher wraps next with a pool of the given size.
func NewAsyncPublisher(next Publisher, size int) (*AsyncPublisher, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create publish pool: %w", err)
	}
	return &AsyncPublisher{
		next:    next,
		pool:    pool,
		timeout: DefaultPublishTimeout,
		log:     logger.Component("receipts"),
	}, nil
}

// Publish schedules r. The ctx only gates submission; the background publish
// uses its own timeout.
func (a *AsyncPublisher) Publish(ctx context.Context, r Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := a.pool.Submit(func() {
		pctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Publish(pctx, r); err != nil {
			a.log.Warn().Err(err).Str("message_id", r.MessageID).Str("status", string(r.Status)).Msg("publish receipt failed")
		}
	})
	if err != nil {
		return fmt.Errorf("submit receipt: %w", err)
	}
	return nil
}

// Running returns the number of in-flight publishes.
func (a *AsyncPublisher) Running() int {
	return a.pool.Running()
}

// Close waits for in-flight publishes, then closes the wrapped publisher.
func (a *AsyncPublisher) Close() error {
	if err := a.pool.ReleaseTimeout(a.timeout); err != nil {
		a.log.Warn().Err(err).Msg("publish pool release timed out")
	}
	return a.next.Close()
}
