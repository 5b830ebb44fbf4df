package counter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterAdd(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	seen := make([]int, 0)
	c := NewCounter(WithTotal(5), WithDesc("reindex"), WithOnAdd(func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 5, total)
		seen = append(seen, done)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Add()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, c.Done())
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, seen)
}
