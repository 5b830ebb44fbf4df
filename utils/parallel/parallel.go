package parallel

import (
	"context"
	"sync"
)

// Parallel runs fn for every index in [0, times) with at most concurrency
// goroutines and returns the results in index order.
func Parallel(fn func(int) any, times, concurrency int) []any {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	var results = make([]any, times)
	c := make(chan struct{}, concurrency)
	for i := 0; i < times; i++ {
		wg.Add(1)
		c <- struct{}{}
		go func(index int) {
			defer wg.Done()
			results[index] = fn(index)
			<-c
		}(i)
	}

	wg.Wait()
	close(c)
	return results
}

// ForEach is Parallel for fallible work. It stops scheduling new indices once
// ctx is done and returns the first error by index.
func ForEach(ctx context.Context, fn func(ctx context.Context, i int) error, times, concurrency int) error {
	results := Parallel(func(i int) any {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(ctx, i)
	}, times, concurrency)
	for _, r := range results {
		if err, ok := r.(error); ok && err != nil {
			return err
		}
	}
	return nil
}
