package dispatch

import (
	"math"
	"sync"
)

// Progress is the run's percentage counter. Values only increase during a
// run; Reset returns it to zero. Observers are called synchronously on every
// change while the lock is held, so they must not call back into Progress.
type Progress struct {
	mu        sync.Mutex
	total     int
	processed int
	percent   int
	observers []func(int)
}

func NewProgress() *Progress { return &Progress{} }

// Observe registers fn for every future change.
func (p *Progress) Observe(fn func(int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Start begins a run over total rows.
func (p *Progress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.processed = 0
	p.set(0)
}

// Advance marks one more row as processed or skipped.
func (p *Progress) Advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	if p.total <= 0 {
		return
	}
	next := int(math.Round(float64(p.processed) / float64(p.total) * 100))
	if next > 100 {
		next = 100
	}
	if next > p.percent {
		p.set(next)
	}
}

// Complete forces 100.
func (p *Progress) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(100)
}

func (p *Progress) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = 0
	p.processed = 0
	p.set(0)
}

func (p *Progress) Value() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent
}

// Processed returns how many rows were counted so far.
func (p *Progress) Processed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

func (p *Progress) set(v int) {
	if v == p.percent {
		return
	}
	p.percent = v
	for _, fn := range p.observers {
		fn(v)
	}
}
