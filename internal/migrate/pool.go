package migrate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/tphakala/repomigrate/internal/observability/metrics"
)

// Pool runs submitted work on at most size goroutines. It has no queue:
// a submission while every slot is busy is rejected.
type Pool struct {
	name     string
	size     int
	sem      *semaphore.Weighted
	recorder metrics.MigrationRecorder

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewPool creates a stopped pool with size slots, at least one.
func NewPool(name string, size int, recorder metrics.MigrationRecorder) *Pool {
	size = max(size, 1)
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Pool{
		name:     name,
		size:     size,
		sem:      semaphore.NewWeighted(int64(size)),
		recorder: recorder,
	}
}

// Start makes the pool accept work. The context passed to submitted
// functions is cancelled by Stop or when parent is done.
func (p *Pool) Start(parent context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(parent)
	p.running = true
}

// Stop rejects new work, cancels running work and waits for it to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
}

// Submit runs fn on a free slot and reports whether it was accepted.
func (p *Pool) Submit(fn func(ctx context.Context)) bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	if !p.sem.TryAcquire(1) {
		p.mu.Unlock()
		p.recorder.RecordPoolRejection(p.name)
		return false
	}
	ctx := p.ctx
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn(ctx)
	}()
	return true
}

// Wait blocks until every accepted function has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

// Name returns the pool name used in metrics and logs.
func (p *Pool) Name() string {
	return p.name
}
