package cache

// Metrics 接收缓存命中情况，由 internal/metrics 的 Prometheus 收集器实现。
type Metrics interface {
	CacheHit(cache string)
	CacheMiss(cache string)
	CacheShared(cache string)
	CacheFetchFailed(cache string)
}

// NoopMetrics 是默认实现，什么都不做。
type NoopMetrics struct{}

func (NoopMetrics) CacheHit(string)         {}
func (NoopMetrics) CacheMiss(string)        {}
func (NoopMetrics) CacheShared(string)      {}
func (NoopMetrics) CacheFetchFailed(string) {}
