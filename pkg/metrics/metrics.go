// Package metrics provides Prometheus metrics collection for QuillFS
// storage components.
//
// All metrics are optional. If InitRegistry is never called, components
// receive no-op implementations with zero overhead, so the engine runs
// identically with or without metrics collection.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry. Safe to call
// multiple times; subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return registry != nil
}

// StoreMetrics records backend store operations.
type StoreMetrics interface {
	// ObserveOp records one store operation with its duration and
	// outcome. op is the contract method name (get, set, remove,
	// iterate, create_key, drop).
	ObserveOp(op string, duration time.Duration, err error)
}

// WalkerMetrics records directory walker cache behavior.
type WalkerMetrics interface {
	CacheHit()
	CacheMiss()
	Invalidate()
}

type noopStoreMetrics struct{}

func (noopStoreMetrics) ObserveOp(string, time.Duration, error) {}

// NewNoopStoreMetrics returns a StoreMetrics that records nothing.
func NewNoopStoreMetrics() StoreMetrics {
	return noopStoreMetrics{}
}

type noopWalkerMetrics struct{}

func (noopWalkerMetrics) CacheHit()   {}
func (noopWalkerMetrics) CacheMiss()  {}
func (noopWalkerMetrics) Invalidate() {}

// NewNoopWalkerMetrics returns a WalkerMetrics that records nothing.
func NewNoopWalkerMetrics() WalkerMetrics {
	return noopWalkerMetrics{}
}
