/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package dedup coalesces identical concurrent requests.
//
// A Deduplicator guarantees that for any key at most one factory invocation
// is active or cached at any moment. Concurrent callers with the same key
// share the in-flight outcome, and settled outcomes keep being shared for
// a fixed TTL window counted from the entry's creation.
package dedup

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/atomic"
)

type entry[V any] struct {
	wg  sync.WaitGroup
	val V
	err error

	// settled and expiresAt are guarded by the owning Deduplicator's mutex.
	settled   bool
	expiresAt time.Time
}

// Deduplicator shares the outcome of one factory invocation among all callers
// that use the same key within the entry's TTL window.
// The zero value is not usable, construct instances with New.
type Deduplicator[V any] struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*entry[V]

	totalRequests    atomic.Int64
	hits             atomic.Int64
	misses           atomic.Int64
	factoryTimeTotal atomic.Duration
}

// New creates a Deduplicator whose settled entries remain shareable for ttl
// after creation. The expiry is fixed when the entry is registered and is not
// renewed by subsequent hits.
func New[V any](ttl time.Duration) *Deduplicator[V] {
	return &Deduplicator[V]{
		ttl:     ttl,
		entries: make(map[string]*entry[V]),
	}
}

// Do returns the shared outcome for key. If an unexpired entry exists,
// whether still in-flight or already settled, its outcome is returned without
// invoking factory. Otherwise factory runs exactly once and its outcome is
// registered under key with expiry at now + TTL.
//
// Expired entries are evicted lazily by the first Do call that observes them.
// A factory failure is delivered identically to every caller that joined the
// entry, then the entry is dropped so that the next Do for the key runs a
// fresh factory.
func (d *Deduplicator[V]) Do(key string, factory func() (V, error)) (V, error) {
	d.totalRequests.Inc()

	d.mu.Lock()
	if e, ok := d.entries[key]; ok {
		if !e.settled {
			d.mu.Unlock()
			d.hits.Inc()
			e.wg.Wait()
			return e.val, e.err
		}
		if time.Now().Before(e.expiresAt) {
			d.mu.Unlock()
			d.hits.Inc()
			return e.val, e.err
		}
		delete(d.entries, key)
	}
	e := &entry[V]{expiresAt: time.Now().Add(d.ttl)}
	e.wg.Add(1)
	d.entries[key] = e
	d.mu.Unlock()

	d.misses.Inc()
	return d.invoke(e, key, factory)
}

func (d *Deduplicator[V]) invoke(e *entry[V], key string, factory func() (V, error)) (val V, err error) {
	start := time.Now()
	normalReturn := false
	recovered := false

	// double-defer to distinguish panic from runtime.Goexit
	defer func() {
		if !normalReturn && !recovered {
			e.err = ErrGoexit
		}

		d.factoryTimeTotal.Add(time.Since(start))

		d.mu.Lock()
		e.settled = true
		if e.err != nil {
			delete(d.entries, key)
		}
		d.mu.Unlock()

		e.wg.Done()

		if recovered {
			panic(e.err.(*PanicError).Value) // re-panic on the same goroutine
		}

		val, err = e.val, e.err
	}()

	defer func() {
		if !normalReturn {
			if v := recover(); v != nil {
				e.err = newPanicError(v)
				recovered = true
			}
		}
	}()
	e.val, e.err = factory()
	normalReturn = true

	return e.val, e.err // will be set in the defer
}

// Len returns the number of registered entries, expired ones included.
func (d *Deduplicator[V]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Stats is a snapshot of deduplication counters.
type Stats struct {
	// TotalRequests is the number of Do calls made.
	TotalRequests int64

	// Hits is the number of Do calls that reused an existing entry.
	Hits int64

	// Misses is the number of Do calls that invoked the factory.
	Misses int64

	// HitRate is Hits divided by TotalRequests, 0 when no requests were made.
	HitRate float64

	// AvgResponseTime is the mean latency of the factory invocations
	// that actually ran, i.e. it is measured over misses only.
	AvgResponseTime time.Duration
}

// Stats returns a snapshot of the deduplication counters.
func (d *Deduplicator[V]) Stats() Stats {
	s := Stats{
		TotalRequests: d.totalRequests.Load(),
		Hits:          d.hits.Load(),
		Misses:        d.misses.Load(),
	}
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests)
	}
	if s.Misses > 0 {
		s.AvgResponseTime = d.factoryTimeTotal.Load() / time.Duration(s.Misses)
	}
	return s
}

// ResetStats zeroes all counters without disturbing registered entries.
func (d *Deduplicator[V]) ResetStats() {
	d.totalRequests.Store(0)
	d.hits.Store(0)
	d.misses.Store(0)
	d.factoryTimeTotal.Store(0)
}

// ErrGoexit is returned when a goroutine calls runtime.Goexit inside a factory.
var ErrGoexit = errors.New("runtime.Goexit was called")

// PanicError is an error that represents a panic value and stack trace.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("%v\n\n%s", p.Value, p.Stack)
}

func (p *PanicError) Unwrap() error {
	err, ok := p.Value.(error)
	if !ok {
		return nil
	}
	return err
}

func newPanicError(v interface{}) error {
	stack := debug.Stack()

	// The first line of the stack trace is of the form "goroutine N [status]:"
	// but by the time the panic reaches Do the goroutine may no longer exist
	// and its status will have changed. Trim out the misleading line.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &PanicError{Value: v, Stack: stack}
}
