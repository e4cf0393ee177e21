package infra

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"send-governor/governance/domain"

	"github.com/stretchr/testify/require"
)

func TestSubjectLimiters_BucketPerSubject(t *testing.T) {
	l := NewSubjectLimiters(0.01, 2)

	acme := l.For("acme")
	require.Same(t, acme, l.For("acme"))
	require.True(t, acme.Allow())
	require.True(t, acme.Allow())
	require.False(t, acme.Allow(), "acme spent its burst")

	// globex tem o próprio burst
	require.True(t, l.For("globex").Allow())
}

func TestSubjectLimiters_SweepDropsIdleSubjects(t *testing.T) {
	clock := &fakeClock{now: testNow}
	l := NewSubjectLimiters(0.01, 1, WithIdleTTL(time.Minute), WithLimiterClock(clock.Now))

	require.True(t, l.For("acme").Allow())
	clock.now = testNow.Add(50 * time.Second)
	l.For("globex")

	require.Equal(t, 1, l.Sweep(testNow.Add(90*time.Second)))

	// acme voltou depois de ocioso: bucket novo, burst cheio
	require.True(t, l.For("acme").Allow())
	require.Zero(t, l.Sweep(testNow.Add(90*time.Second)))
}

func TestSlotPool(t *testing.T) {
	p := NewSlotPool(1)
	require.Equal(t, 1, p.Size())

	release, ok := p.Acquire(context.Background())
	require.True(t, ok)
	require.Equal(t, 1, p.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok = p.Acquire(ctx)
	require.False(t, ok)

	release()
	release() // idempotente
	require.Zero(t, p.InUse())

	var _ domain.SlotPool = p
}

func TestStartSweepers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan struct{})
	StartSweepers(ctx,
		Sweeper{Name: "counter", Every: time.Millisecond, Sweep: func(time.Time) int {
			if runs.Add(1) == 3 {
				close(done)
			}
			return 1
		}},
		Sweeper{Name: "disabled", Sweep: func(time.Time) int {
			t.Errorf("sweeper without interval must not run")
			return 0
		}},
	)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper never ran three times")
	}
}
