package handlers

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterPool hands out one token bucket per key. Buckets untouched for
// longer than idle are dropped; by then they have refilled, so a new bucket
// behaves the same.
type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	rps       float64
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	idle := time.Duration(float64(burst) / rps * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &limiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rps,
		burst: burst,
		idle:  idle,
		now:   time.Now,
	}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) >= p.idle {
		p.sweep(now)
	}
	if e, ok := p.m[key]; ok {
		e.seen = now
		return e.lim
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{lim: l, seen: now}
	return l
}

// sweep drops idle buckets. Callers hold p.mu.
func (p *limiterPool) sweep(now time.Time) {
	for k, e := range p.m {
		if now.Sub(e.seen) >= p.idle {
			delete(p.m, k)
		}
	}
	p.lastSweep = now
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
