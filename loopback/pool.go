package loopback

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// pool runs jobs on a fixed set of goroutines.
type pool struct {
	log     *zap.Logger
	jobs    chan func()
	workers sync.WaitGroup
	pending sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

func newPool(n int, log *zap.Logger) *pool {
	if n < 1 {
		n = 1
	}
	p := &pool{log: log, jobs: make(chan func(), 64)}
	p.workers.Add(n)
	for i := 0; i < n; i++ {
		go p.run()
	}
	return p
}

func (p *pool) run() {
	defer p.workers.Done()
	for fn := range p.jobs {
		p.exec(fn)
	}
}

func (p *pool) exec(fn func()) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("loopback job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// submit queues fn. Returns false once the pool is closed.
func (p *pool) submit(fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.pending.Add(1)
	p.jobs <- fn
	return true
}

// submitAfter queues fn once d has elapsed.
func (p *pool) submitAfter(d time.Duration, fn func()) {
	if d <= 0 {
		p.submit(fn)
		return
	}
	p.pending.Add(1)
	time.AfterFunc(d, func() {
		defer p.pending.Done()
		p.submit(fn)
	})
}

// flush waits until every queued job has run.
func (p *pool) flush() {
	p.pending.Wait()
}

func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.workers.Wait()
}
