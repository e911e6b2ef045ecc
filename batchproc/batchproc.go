/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package batchproc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-vaultkit/log"
	"github.com/acronis/go-vaultkit/retry"
)

// Default values for Options fields that are left zero.
const (
	DefaultBatchSize     = 10
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// DefaultMaxConcurrency is used when Options.MaxConcurrency is zero.
const DefaultMaxConcurrency = DefaultBatchSize

// NoRetries disables retries entirely when assigned to Options.RetryAttempts.
// The zero value of RetryAttempts means DefaultRetryAttempts, not zero retries.
const NoRetries = -1

// ErrInvalidOptions is returned (wrapped) when Options fail validation.
var ErrInvalidOptions = errors.New("invalid processing options")

// Worker processes a single item and returns its result.
type Worker[T, R any] func(ctx context.Context, item T) (R, error)

// Result is the outcome of processing one item.
// Exactly one of Value and Err is meaningful.
type Result[R any] struct {
	// Index is the item's position in the input slice.
	Index int

	// Value holds the worker's result when Err is nil.
	Value R

	// Err holds the error from the final attempt when all attempts failed.
	Err error

	// Attempts is the number of worker invocations made for this item,
	// 1 when the first attempt settled it.
	Attempts int
}

// ProgressFunc is called after every item settles (successfully or not)
// with the running number of settled items and the fixed total.
type ProgressFunc func(completed, total int)

// Options configures processing. The zero value is usable,
// all fields fall back to package defaults.
type Options struct {
	// MaxConcurrency bounds how many worker invocations may run simultaneously.
	MaxConcurrency int

	// BatchSize is the chunk size used by ProcessBatches.
	BatchSize int

	// RetryAttempts is the number of additional attempts after the first failed one.
	// Use NoRetries to fail items on the first error.
	RetryAttempts int

	// RetryDelay is the pause between attempts when Backoff is not set.
	RetryDelay time.Duration

	// Backoff overrides the constant RetryDelay-based policy.
	// RetryAttempts and RetryDelay are ignored when it is set.
	Backoff retry.Policy

	// OnProgress, if set, is invoked once per settled item.
	// Invocations are serialized, the callback does not need to be thread-safe.
	OnProgress ProgressFunc

	Logger           log.FieldLogger
	MetricsCollector MetricsCollector
}

type procOptions struct {
	maxConcurrency int
	batchSize      int
	backoffPolicy  retry.Policy
	onProgress     ProgressFunc
	logger         log.FieldLogger
	metrics        MetricsCollector
}

func (opts Options) normalize() (procOptions, error) {
	if opts.MaxConcurrency < 0 {
		return procOptions{}, fmt.Errorf("%w: maxConcurrency must not be negative, got %d",
			ErrInvalidOptions, opts.MaxConcurrency)
	}
	if opts.BatchSize < 0 {
		return procOptions{}, fmt.Errorf("%w: batchSize must not be negative, got %d",
			ErrInvalidOptions, opts.BatchSize)
	}
	if opts.RetryAttempts < NoRetries {
		return procOptions{}, fmt.Errorf("%w: retryAttempts must be >= -1, got %d",
			ErrInvalidOptions, opts.RetryAttempts)
	}

	po := procOptions{
		maxConcurrency: opts.MaxConcurrency,
		batchSize:      opts.BatchSize,
		backoffPolicy:  opts.Backoff,
		onProgress:     opts.OnProgress,
		logger:         opts.Logger,
		metrics:        opts.MetricsCollector,
	}
	if po.maxConcurrency == 0 {
		po.maxConcurrency = DefaultMaxConcurrency
	}
	if po.batchSize == 0 {
		po.batchSize = DefaultBatchSize
	}
	if po.logger == nil {
		po.logger = log.NewDisabledLogger()
	}
	if po.metrics == nil {
		po.metrics = disabledMetricsCollector
	}
	if po.backoffPolicy == nil {
		retryAttempts := opts.RetryAttempts
		if retryAttempts == 0 {
			retryAttempts = DefaultRetryAttempts
		}
		retryDelay := opts.RetryDelay
		if retryDelay == 0 {
			retryDelay = DefaultRetryDelay
		}
		if retryAttempts == NoRetries {
			po.backoffPolicy = retry.PolicyFunc(func() backoff.BackOff {
				return &backoff.StopBackOff{}
			})
		} else {
			po.backoffPolicy = retry.NewConstantBackoffPolicy(retryDelay, retryAttempts)
		}
	}
	return po, nil
}

// progressTracker serializes OnProgress invocations and keeps the settled count.
type progressTracker struct {
	mu        sync.Mutex
	completed int
	total     int
	onSettled ProgressFunc
}

func (pt *progressTracker) settle() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.completed++
	if pt.onSettled != nil {
		// Called under the lock to keep invocations serialized and in order.
		pt.onSettled(pt.completed, pt.total)
	}
}

// Process runs worker over all items with at most MaxConcurrency invocations
// in flight at once. As soon as one item settles, the next not-yet-started item
// is admitted. The returned slice always contains exactly one Result per item,
// in input order, regardless of completion order. Per-item failures are recorded
// in the corresponding Result and never returned as the call's own error.
//
// When ctx is canceled, running items are given the canceled context and items
// that have not started settle immediately with ctx.Err().
func Process[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts Options) ([]Result[R], error) {
	po, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	results := make([]Result[R], len(items))
	pt := &progressTracker{total: len(items), onSettled: po.onProgress}

	sem := make(chan struct{}, po.maxConcurrency)
	var wg sync.WaitGroup
	for i := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = Result[R]{Index: i, Err: ctx.Err()}
			pt.settle()
			continue
		}
		wg.Add(1)
		go func(idx int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = runItem(ctx, po, idx, item, worker)
			pt.settle()
		}(i, items[i])
	}
	wg.Wait()
	return results, nil
}

// ProcessSimple is a convenience wrapper around Process that splits the
// outcomes into a value slice and an error slice of the same length as items.
// For every index exactly one of values[i] and errs[i] is meaningful.
func ProcessSimple[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts Options) ([]R, []error, error) {
	results, err := Process(ctx, items, worker, opts)
	if err != nil {
		return nil, nil, err
	}
	values := make([]R, len(results))
	errs := make([]error, len(results))
	for i, r := range results {
		values[i] = r.Value
		errs[i] = r.Err
	}
	return values, errs, nil
}

// ProcessBatches splits items into consecutive chunks of BatchSize and runs
// the chunks strictly one after another. All items within a chunk start
// concurrently and the next chunk does not begin until every item of the
// current one has settled. MaxConcurrency does not additionally gate items
// within a chunk. Results are returned in input order.
func ProcessBatches[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts Options) ([]Result[R], error) {
	po, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	results := make([]Result[R], len(items))
	pt := &progressTracker{total: len(items), onSettled: po.onProgress}

	for start := 0; start < len(items); start += po.batchSize {
		end := start + po.batchSize
		if end > len(items) {
			end = len(items)
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				results[i] = Result[R]{Index: i, Err: ctx.Err()}
				pt.settle()
				continue
			}
			wg.Add(1)
			go func(idx int, item T) {
				defer wg.Done()
				results[idx] = runItem(ctx, po, idx, item, worker)
				pt.settle()
			}(i, items[i])
		}
		wg.Wait()
	}
	return results, nil
}

func runItem[T, R any](ctx context.Context, po procOptions, idx int, item T, worker Worker[T, R]) Result[R] {
	metrics := po.metrics
	logger := po.logger

	var value R
	start := time.Now()
	attempts, err := retry.DoWithRetryAndCount(ctx, po.backoffPolicy, nil,
		func(retryErr error, delay time.Duration) {
			logger.Debug("work item failed, retrying",
				log.Int("item_index", idx), log.DurationIn(delay, time.Millisecond), log.Error(retryErr))
		},
		func(ctx context.Context) error {
			var workerErr error
			value, workerErr = worker(ctx, item)
			return workerErr
		},
	)
	metrics.ObserveItemDuration(time.Since(start))
	if attempts > 1 {
		metrics.AddRetryAttempts(attempts - 1)
	}
	if err != nil {
		logger.Warn("work item failed permanently",
			log.Int("item_index", idx), log.Int("attempts", attempts), log.Error(err))
		metrics.IncItemsFailed()
		var zero R
		return Result[R]{Index: idx, Value: zero, Err: err, Attempts: attempts}
	}
	metrics.IncItemsSucceeded()
	return Result[R]{Index: idx, Value: value, Attempts: attempts}
}
