package remote

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single remote call
const DefaultTimeout = 3 * time.Second

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Replicator runs remote writes on one background worker in enqueue order.
// Enqueue never blocks on the network; each job gets its own timeout and a
// failed job is logged and reported, not retried.
type Replicator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []job
	running  bool
	closed   bool
	onFail   []func(name string, err error)
	finished chan struct{}
}

func NewReplicator(timeout time.Duration, logger zerolog.Logger) *Replicator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Replicator{
		timeout:  timeout,
		logger:   logger.With().Str("component", "replicator").Logger(),
		finished: make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.loop()
	return r
}

// OnFailure registers a callback invoked after a job fails
func (r *Replicator) OnFailure(fn func(name string, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFail = append(r.onFail, fn)
}

// Enqueue schedules fn. It reports false once the replicator is closed.
func (r *Replicator) Enqueue(name string, fn func(ctx context.Context) error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn().Str("job", name).Msg("replicator closed, dropping job")
		return false
	}
	r.queue = append(r.queue, job{name: name, fn: fn})
	r.cond.Broadcast()
	return true
}

// Drain blocks until every job enqueued so far has finished
func (r *Replicator) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.queue) > 0 || r.running {
		r.cond.Wait()
	}
}

// Pending returns the number of queued or running jobs
func (r *Replicator) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.queue)
	if r.running {
		n++
	}
	return n
}

// Close finishes queued jobs and stops the worker
func (r *Replicator) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.cond.Broadcast()
	}
	r.mu.Unlock()
	<-r.finished
}

func (r *Replicator) loop() {
	defer close(r.finished)
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		j := r.queue[0]
		r.queue = r.queue[1:]
		r.running = true
		r.mu.Unlock()

		if err := r.run(j); err != nil {
			r.mu.Lock()
			callbacks := r.onFail
			r.mu.Unlock()
			for _, fn := range callbacks {
				fn(j.name, err)
			}
		}

		// failure callbacks complete before Drain observes the job as done
		r.mu.Lock()
		r.running = false
		r.cond.Broadcast()
		r.mu.Unlock()
	}
}

func (r *Replicator) run(j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Str("job", j.name).Dur("elapsed", time.Since(start)).
			Msg("remote write failed, local state stays authoritative")
		return err
	}
	r.logger.Debug().Str("job", j.name).Dur("elapsed", time.Since(start)).Msg("remote write done")
	return nil
}
