// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package retry

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of an asynchronous execution.
type Result struct {
	Err      error
	Attempts int
}

// ExecuteAsync runs op with the same semantics as ExecuteContext but without
// holding a goroutine during backoff: each attempt is started by a timer and
// the final Result is delivered on the returned channel, which is then closed.
func (p *Policy) ExecuteAsync(ctx context.Context, op Operation) <-chan Result {
	out := make(chan Result, 1)
	r := &asyncRun{p: p, ctx: ctx, op: op, out: out}

	p.begin()
	r.stopCtx = context.AfterFunc(ctx, r.cancel)
	r.schedule(0)
	return out
}

type asyncRun struct {
	p   *Policy
	ctx context.Context
	op  Operation
	out chan Result

	stopCtx func() bool
	once    sync.Once

	mu       sync.Mutex
	timer    *time.Timer
	attempts int
}

func (r *asyncRun) schedule(d time.Duration) {
	r.mu.Lock()
	r.timer = time.AfterFunc(d, r.step)
	r.mu.Unlock()

	// ctx may have ended before this timer existed.
	if r.ctx.Err() != nil {
		r.cancel()
	}
}

func (r *asyncRun) step() {
	if err := r.ctx.Err(); err != nil {
		r.finish(err)
		return
	}

	r.mu.Lock()
	attempt := r.attempts
	r.attempts++
	r.mu.Unlock()

	r.p.countAttempt()
	err := r.op(r.ctx)
	if err == nil {
		r.finish(nil)
		return
	}
	if attempt == r.p.cfg.MaxAttempts-1 || !r.p.ShouldRetry(err) {
		r.finish(err)
		return
	}

	d := r.p.Delay(attempt)
	r.p.logger.Debug("retrying", "attempt", attempt+1, "delay", d, "error", err, "async", true)
	r.schedule(d)
}

// cancel runs when ctx is done. If a backoff timer is pending it is stopped
// and the run ends now; a running attempt notices the context itself.
func (r *asyncRun) cancel() {
	r.mu.Lock()
	t := r.timer
	r.mu.Unlock()

	if t != nil && t.Stop() {
		r.finish(r.ctx.Err())
	}
}

func (r *asyncRun) finish(err error) {
	r.once.Do(func() {
		r.stopCtx()

		r.mu.Lock()
		attempts := r.attempts
		r.mu.Unlock()

		r.out <- Result{Err: r.p.finish(attempts, err), Attempts: attempts}
		close(r.out)
	})
}
