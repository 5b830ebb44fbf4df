package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelKeepsOrder(t *testing.T) {
	t.Parallel()
	var running, peak int32
	results := Parallel(func(i int) any {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		atomic.AddInt32(&running, -1)
		return i * i
	}, 20, 3)

	assert.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, i*i, r)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestForEachReturnsFirstError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	err := ForEach(context.Background(), func(_ context.Context, i int) error {
		if i == 4 || i == 7 {
			return boom
		}
		return nil
	}, 10, 2)
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, ForEach(context.Background(), func(context.Context, int) error { return nil }, 5, 0))
}
