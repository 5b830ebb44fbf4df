package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func frozen(l *Limiter) *clock {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l.now = c.now
	return c
}

func TestLimiter_Reserve(t *testing.T) {
	t.Parallel()

	l := New(2, 2)
	c := frozen(l)
	assert.Zero(t, max(0, l.reserve()))
	assert.Zero(t, max(0, l.reserve()))
	assert.Equal(t, 500*time.Millisecond, l.reserve())
	assert.Equal(t, time.Second, l.reserve())

	// an idle period refills the burst and no more
	c.t = c.t.Add(10 * time.Second)
	assert.Zero(t, max(0, l.reserve()))
	assert.Zero(t, max(0, l.reserve()))
	assert.Equal(t, 500*time.Millisecond, l.reserve())
}

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()

	l := New(1, 2)
	c := frozen(l)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	c.t = c.t.Add(time.Second)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLimiter_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(0.01, 1)
	assert.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)

	// the cancelled slot was handed back
	c := frozen(l)
	c.t = time.Now().Add(100 * time.Second)
	assert.True(t, l.Allow())
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	var nilLimiter *Limiter
	for _, l := range []*Limiter{New(0, 1), New(-1, 0), nilLimiter} {
		for range 5 {
			assert.NoError(t, l.Wait(context.Background()))
			assert.True(t, l.Allow())
		}
		assert.Zero(t, l.Rate())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, New(0, 1).Wait(ctx), context.Canceled)
}

func TestLimiter_Rate(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 4.0, New(4, 0).Rate(), 1e-9)
	assert.Equal(t, 4, New(4, 0).burst)
	assert.Equal(t, 1, New(0.5, 0).burst)
}
