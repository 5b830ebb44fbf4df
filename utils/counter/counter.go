package counter

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Counter tracks done/total of a long job and logs speed and ETA.
type Counter struct {
	count     int
	total     int
	mutex     sync.Mutex
	desc      string
	startTime time.Time
	logger    *zap.Logger
	onAdd     func(done, total int)
}

func NewCounter(opts ...Option) *Counter {
	options := &Options{}

	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	return &Counter{
		count:     0,
		total:     options.total,
		desc:      options.desc,
		startTime: time.Now(),
		logger:    options.logger,
		onAdd:     options.onAdd,
	}
}

// Add marks one unit done and returns the new count.
func (c *Counter) Add() int {
	c.mutex.Lock()
	c.count++
	done, total := c.count, c.total
	elapsed := time.Since(c.startTime).Seconds()
	c.mutex.Unlock()

	speed := float64(done) / elapsed
	remaining := 0.0
	if speed > 0 {
		remaining = float64(total-done) / speed
	}
	c.logger.Info(c.desc,
		zap.Int("done", done),
		zap.Int("total", total),
		zap.Float64("speed", speed),
		zap.Float64("eta_seconds", remaining))
	if c.onAdd != nil {
		c.onAdd(done, total)
	}
	return done
}

func (c *Counter) Done() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.count
}
