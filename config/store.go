// Package config is the bridge's configuration layer: typed settings loaded
// from TOML or YAML, an atomic Store that hot-reloadable settings are read
// from, and an fsnotify-based Watcher that drives reloads.
package config

import (
	"sync"
	"sync/atomic"
)

// Store publishes the live configuration. Readers on connection goroutines
// call Get without locking; the reload path calls Swap.
type Store[T any] struct {
	current atomic.Pointer[T]
	gen     atomic.Uint64

	// swapMu serializes Swap so listeners observe changes in order.
	swapMu    sync.Mutex
	listeners atomic.Pointer[[]func(prev, next *T)]
}

// NewStore creates a store publishing initial.
func NewStore[T any](initial *T) *Store[T] {
	s := &Store[T]{}
	s.current.Store(initial)
	return s
}

// Get returns the configuration currently in effect.
func (s *Store[T]) Get() *T {
	return s.current.Load()
}

// Generation counts successful swaps since the store was created.
func (s *Store[T]) Generation() uint64 {
	return s.gen.Load()
}

// Swap publishes next and returns the previous value. Listeners run on the
// calling goroutine in registration order, after next is visible to Get.
func (s *Store[T]) Swap(next *T) *T {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	prev := s.current.Swap(next)
	s.gen.Add(1)
	if fns := s.listeners.Load(); fns != nil {
		for _, fn := range *fns {
			fn(prev, next)
		}
	}
	return prev
}

// OnChange registers fn to run after every Swap.
func (s *Store[T]) OnChange(fn func(prev, next *T)) {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	var fns []func(prev, next *T)
	if old := s.listeners.Load(); old != nil {
		fns = append(fns, *old...)
	}
	fns = append(fns, fn)
	s.listeners.Store(&fns)
}
