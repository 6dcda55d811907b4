package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"goa.design/clue/log"

	"github.com/balkashynov/pomo/internal/timer"
)

type (
	// Dispatcher delivers events on a worker pool so that callers never wait on
	// the wrapped notifier. Failed deliveries are retried with exponential
	// backoff and logged once retries are exhausted.
	Dispatcher struct {
		next       timer.Notifier
		pool       *ants.Pool
		maxRetries uint64
		newBackOff func() backoff.BackOff
		wg         sync.WaitGroup
	}

	// DispatcherOption configures a Dispatcher.
	DispatcherOption func(*Dispatcher)
)

// WithMaxRetries sets how many times a failed delivery is retried. Defaults
// to 3.
func WithMaxRetries(n uint64) DispatcherOption {
	return func(d *Dispatcher) { d.maxRetries = n }
}

// WithBackOff sets the retry schedule.
func WithBackOff(fn func() backoff.BackOff) DispatcherOption {
	return func(d *Dispatcher) { d.newBackOff = fn }
}

// NewDispatcher wraps next with a pool of size workers.
func NewDispatcher(next timer.Notifier, size int, opts ...DispatcherOption) (*Dispatcher, error) {
	if size <= 0 {
		size = 4
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create notification pool: %w", err)
	}
	d := &Dispatcher{
		next:       next,
		pool:       pool,
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Notify queues ev and returns. The delivery keeps the values of ctx but not
// its cancellation. An error is returned only when the pool is saturated.
func (d *Dispatcher) Notify(ctx context.Context, ev timer.Event) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.deliver(ctx, ev)
	})
	if err != nil {
		d.wg.Done()
		return fmt.Errorf("queue %s notification: %w", ev.Kind, err)
	}
	return nil
}

// Close waits for queued deliveries to finish or ctx to be done, then releases
// the pool.
func (d *Dispatcher) Close(ctx context.Context) error {
	defer d.pool.Release()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev timer.Event) {
	op := func() error {
		return d.next.Notify(ctx, ev)
	}
	onRetry := func(err error, wait time.Duration) {
		log.Debug(ctx, log.KV{K: "msg", V: "retrying notification"}, log.KV{K: "event", V: string(ev.Kind)}, log.KV{K: "wait", V: wait.String()}, log.KV{K: "err", V: err.Error()})
	}
	b := backoff.WithMaxRetries(d.newBackOff(), d.maxRetries)
	if err := backoff.RetryNotify(op, b, onRetry); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "notification dropped"}, log.KV{K: "event", V: string(ev.Kind)}, log.KV{K: "session", V: ev.SessionID})
	}
}
