/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package batchproc

import (
	"context"
	"sync"
)

// ProcessStream runs worker over all items under the same concurrency and
// retry rules as Process and delivers each Result on the returned channel
// as soon as its item settles. Results arrive in completion order, not input
// order; Result.Index identifies the originating item. Exactly one Result is
// emitted per item and the channel is closed after the last one.
//
// The sequence is single-pass. A second traversal requires a fresh call.
func ProcessStream[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts Options) (<-chan Result[R], error) {
	po, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	out := make(chan Result[R], po.maxConcurrency)
	pt := &progressTracker{total: len(items), onSettled: po.onProgress}

	go func() {
		defer close(out)
		sem := make(chan struct{}, po.maxConcurrency)
		var wg sync.WaitGroup
		for i := range items {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				out <- Result[R]{Index: i, Err: ctx.Err()}
				pt.settle()
				continue
			}
			wg.Add(1)
			go func(idx int, item T) {
				defer wg.Done()
				defer func() { <-sem }()
				out <- runItem(ctx, po, idx, item, worker)
				pt.settle()
			}(i, items[i])
		}
		wg.Wait()
	}()
	return out, nil
}
