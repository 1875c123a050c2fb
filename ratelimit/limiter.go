package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Config represents the admission budget of a limiter.
type Config struct {
	// Name identifies the upstream the limiter guards.
	Name string
	// MaxPerInterval is the maximum number of task starts within a rolling interval.
	MaxPerInterval int
	// Interval is the length of the rolling window.
	Interval time.Duration
	// MaxConcurrent is the maximum number of tasks in flight.
	MaxConcurrent int
	// MinSpacing is the minimum time between consecutive task starts.
	MinSpacing time.Duration
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.MaxPerInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max per interval must be positive, got %d", cfg.MaxPerInterval))
	}
	if cfg.Interval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("interval must be positive, got %s", cfg.Interval))
	}
	if cfg.MaxConcurrent <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max concurrent must be positive, got %d", cfg.MaxConcurrent))
	}
	if cfg.MinSpacing < 0 {
		errs = errors.Join(errs, fmt.Errorf("min spacing cannot be negative, got %s", cfg.MinSpacing))
	}

	return errs
}

// ticket represents a queued task awaiting admission.
type ticket struct {
	start   chan struct{}
	started bool
}

// Limiter admits tasks in FIFO order while honouring a sliding window budget, a concurrency cap
// and a minimum spacing between task starts.
type Limiter struct {
	cfg       *Config
	mtx       sync.Mutex
	queue     []*ticket
	window    []time.Time
	lastStart time.Time
	active    int
	recheck   *time.Timer
	now       func() time.Time
}

// NewLimiter initializes a new limiter.
func NewLimiter(cfg *Config) (*Limiter, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating %s limiter config: %w", cfg.Name, err)
	}

	return &Limiter{
		cfg:    cfg,
		queue:  make([]*ticket, 0, cfg.MaxPerInterval),
		window: make([]time.Time, 0, cfg.MaxPerInterval),
		now:    time.Now,
	}, nil
}

// Name returns the name of the guarded upstream.
func (l *Limiter) Name() string {
	return l.cfg.Name
}

// Active returns the number of tasks currently in flight.
func (l *Limiter) Active() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return l.active
}

// Pending returns the number of tasks awaiting admission.
func (l *Limiter) Pending() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return len(l.queue)
}

// Schedule queues the provided task and runs it once admitted. The slot is released when the task
// returns, regardless of its outcome. Cancelling the context before admission removes the task
// from the queue.
func (l *Limiter) Schedule(ctx context.Context, task func(ctx context.Context) error) error {
	t := &ticket{start: make(chan struct{})}

	l.mtx.Lock()
	l.queue = append(l.queue, t)
	l.mtx.Unlock()

	l.process()

	select {
	case <-t.start:
	case <-ctx.Done():
		l.mtx.Lock()
		if !t.started {
			l.dequeue(t)
			l.mtx.Unlock()
			return ctx.Err()
		}
		l.mtx.Unlock()

		// Admitted concurrently with the cancellation, give the slot back.
		l.release()
		return ctx.Err()
	}

	defer l.release()

	return task(ctx)
}

// Do schedules the provided task on the limiter and returns its result.
func Do[T any](ctx context.Context, l *Limiter, task func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := l.Schedule(ctx, func(ctx context.Context) error {
		var err error
		res, err = task(ctx)
		return err
	})

	return res, err
}

// release frees an active slot and re-evaluates the queue.
func (l *Limiter) release() {
	l.mtx.Lock()
	l.active--
	l.mtx.Unlock()

	l.process()
}

// dequeue removes the provided ticket from the queue. This must be called with the mutex held.
func (l *Limiter) dequeue(t *ticket) {
	for idx := range l.queue {
		if l.queue[idx] == t {
			l.queue = append(l.queue[:idx], l.queue[idx+1:]...)
			return
		}
	}
}

// prune drops window entries that fell out of the rolling interval. This must be called with the
// mutex held.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Interval)
	idx := 0
	for idx < len(l.window) && !l.window[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.window = append(l.window[:0], l.window[idx:]...)
	}
}

// process admits queued tasks for as long as the budget allows. When the window or the spacing
// blocks admission a single deferred re-check is armed for the required wait.
func (l *Limiter) process() {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	for len(l.queue) > 0 {
		if l.active >= l.cfg.MaxConcurrent {
			// A completing task triggers the next evaluation.
			return
		}

		now := l.now()
		l.prune(now)

		var wait time.Duration
		switch {
		case len(l.window) >= l.cfg.MaxPerInterval:
			wait = l.window[0].Add(l.cfg.Interval).Sub(now)
		case !l.lastStart.IsZero() && now.Sub(l.lastStart) < l.cfg.MinSpacing:
			wait = l.lastStart.Add(l.cfg.MinSpacing).Sub(now)
		}

		if wait > 0 {
			l.armRecheck(wait)
			return
		}

		t := l.queue[0]
		l.queue = l.queue[1:]
		l.active++
		l.window = append(l.window, now)
		l.lastStart = now
		t.started = true
		close(t.start)
	}
}

// armRecheck schedules a deferred queue evaluation unless one is already pending. This must be
// called with the mutex held.
func (l *Limiter) armRecheck(wait time.Duration) {
	if l.recheck != nil {
		return
	}

	l.recheck = time.AfterFunc(wait, func() {
		l.mtx.Lock()
		l.recheck = nil
		l.mtx.Unlock()

		l.process()
	})
}
