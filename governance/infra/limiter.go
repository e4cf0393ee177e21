package infra

import (
	"context"
	"sync"
	"time"

	"send-governor/governance/domain"

	"golang.org/x/time/rate"
)

// SubjectLimiters guarda um token bucket (x/time/rate) por subject chamador.
// Buckets sem uso há mais de idle são descartados por Sweep; um subject que
// volta depois disso recomeça com o burst cheio.
type SubjectLimiters struct {
	mu      sync.Mutex
	buckets map[domain.Subject]*subjectBucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

type subjectBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type LimiterOption func(*SubjectLimiters)

func WithIdleTTL(d time.Duration) LimiterOption {
	return func(l *SubjectLimiters) { l.idle = d }
}

func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *SubjectLimiters) { l.now = now }
}

func NewSubjectLimiters(rps float64, burst int, opts ...LimiterOption) *SubjectLimiters {
	l := &SubjectLimiters{
		buckets: make(map[domain.Subject]*subjectBucket),
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    15 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SubjectLimiters) For(subject domain.Subject) domain.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[subject]
	if !ok {
		b = &subjectBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[subject] = b
	}
	b.lastSeen = now
	return b.lim
}

// Sweep remove os buckets ociosos em now e devolve quantos saíram.
func (l *SubjectLimiters) Sweep(now time.Time) int {
	cutoff := now.Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for s, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, s)
			n++
		}
	}
	return n
}

// SlotPool é um semáforo de chamadas simultâneas sobre um channel com buffer.
type SlotPool struct {
	slots chan struct{}
}

func NewSlotPool(size int) *SlotPool {
	return &SlotPool{slots: make(chan struct{}, size)}
}

func (p *SlotPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.slots }) }, true
	case <-ctx.Done():
		return nil, false
	}
}

// InUse é exportado como gauge no /metrics.
func (p *SlotPool) InUse() int { return len(p.slots) }

func (p *SlotPool) Size() int { return cap(p.slots) }
