package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 按固定间隔排队放行调用, 空闲之后最多连续放行 burst 次.
// A nil Limiter or one built with rate <= 0 never waits.
type Limiter struct {
	interval time.Duration
	burst    int

	mu sync.Mutex
	// tat is the theoretical arrival time of the next call
	tat time.Time
	now func() time.Time
}

// New builds a limiter of rate calls per second. burst <= 0 lets as many
// calls through back to back as one second of rate allows, at least one.
func New(rate float64, burst int) *Limiter {
	if rate <= 0 {
		return &Limiter{}
	}
	if burst <= 0 {
		burst = max(1, int(rate))
	}
	return &Limiter{
		interval: time.Duration(float64(time.Second) / rate),
		burst:    burst,
		now:      time.Now,
	}
}

// Rate returns the configured calls per second, 0 when unlimited.
func (l *Limiter) Rate() float64 {
	if l.unlimited() {
		return 0
	}
	return float64(time.Second) / float64(l.interval)
}

// Allow books a slot only if it is free right now.
func (l *Limiter) Allow() bool {
	if l.unlimited() {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	tat := later(l.tat, now)
	if tat.Sub(now) > l.window() {
		return false
	}
	l.tat = tat.Add(l.interval)
	return true
}

// Wait books the next slot and sleeps until it starts. A cancelled wait
// hands its slot back.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.unlimited() {
		return nil
	}
	d := l.reserve()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		l.release()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	tat := later(l.tat, now)
	l.tat = tat.Add(l.interval)
	return tat.Sub(now) - l.window()
}

func (l *Limiter) release() {
	l.mu.Lock()
	l.tat = l.tat.Add(-l.interval)
	l.mu.Unlock()
}

// window is how far ahead of now bookings may run without waiting.
func (l *Limiter) window() time.Duration {
	return time.Duration(l.burst-1) * l.interval
}

func (l *Limiter) unlimited() bool {
	return l == nil || l.interval <= 0
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
