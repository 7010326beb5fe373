package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry 是 ResultCache 内部保存的条目，StoredAt 仅在整体覆盖时更新。
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// FetchFunc 由调用方提供，负责在未命中时抓取 key 对应的值。
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// Result 描述一次 GetOrFetch 的结果。
//
// FromCache 仅在值来自已存在的缓存条目时为 true，Age 此时为条目年龄。
// 等待他人进行中抓取的调用方得到 FromCache=false、Shared=true。
type Result[V any] struct {
	Value     V
	FromCache bool
	Shared    bool
	Stale     bool
	Age       time.Duration
	StoredAt  time.Time
}

// Option 调整缓存的可选行为。
type Option func(*options)

type options struct {
	now     func() time.Time
	metrics Metrics
}

// WithClock 注入时钟，测试中用于模拟 TTL 流逝。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics 注入命中统计。
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, metrics: NoopMetrics{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ResultCache 是带 TTL 的结果缓存，过期在读取时判断，不依赖后台清理。
type ResultCache[V any] struct {
	name    string
	ttl     time.Duration
	now     func() time.Time
	metrics Metrics

	mu      sync.RWMutex
	entries map[string]Entry[V]
	group   singleflight.Group
}

// NewResultCache 创建结果缓存，name 用于指标标签。
func NewResultCache[V any](name string, ttl time.Duration, opts ...Option) *ResultCache[V] {
	o := buildOptions(opts)
	return &ResultCache[V]{
		name:    name,
		ttl:     ttl,
		now:     o.now,
		metrics: o.metrics,
		entries: make(map[string]Entry[V]),
	}
}

// Name 返回缓存名称。
func (c *ResultCache[V]) Name() string { return c.name }

// TTL 返回条目的有效期。
func (c *ResultCache[V]) TTL() time.Duration { return c.ttl }

// Len 返回当前保存的条目数，包含已过期但尚未被覆盖的条目。
func (c *ResultCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrFetch 命中未过期条目时直接返回；否则与同 key 的进行中抓取合并，或亲自调用 fetch。
// fetch 使用发起者的 ctx；发起者取消会使本次抓取失败并释放所有等待者，失败结果不会写入缓存。
func (c *ResultCache[V]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V]) (Result[V], error) {
	if res, ok := c.live(key); ok {
		c.metrics.CacheHit(c.name)
		return res, nil
	}

	val, owner, err := flight(ctx, &c.group, key, func() (interface{}, error) {
		// 上一轮抓取可能恰好在 live 检查之后完成。
		if res, ok := c.live(key); ok {
			return res, nil
		}
		value, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		stored := c.put(key, value)
		return Result[V]{Value: value, StoredAt: stored}, nil
	}, func() { c.metrics.CacheFetchFailed(c.name) })
	if err != nil {
		return Result[V]{}, err
	}

	res := val.(Result[V])
	switch {
	case res.FromCache:
		c.metrics.CacheHit(c.name)
	case owner:
		c.metrics.CacheMiss(c.name)
	default:
		res.Shared = true
		c.metrics.CacheShared(c.name)
	}
	return res, nil
}

// Peek 返回 key 的条目而不考虑是否过期，用于抓取失败时的兜底与归属校验。
func (c *ResultCache[V]) Peek(key string) (Result[V], bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Result[V]{}, false
	}
	return c.toResult(entry), true
}

func (c *ResultCache[V]) put(key string, value V) time.Time {
	now := c.now()
	c.mu.Lock()
	c.entries[key] = Entry[V]{Value: value, StoredAt: now}
	c.mu.Unlock()
	return now
}

func (c *ResultCache[V]) live(key string) (Result[V], bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Result[V]{}, false
	}
	res := c.toResult(entry)
	if res.Stale {
		return Result[V]{}, false
	}
	return res, true
}

func (c *ResultCache[V]) toResult(entry Entry[V]) Result[V] {
	age := c.now().Sub(entry.StoredAt)
	if age < 0 {
		age = 0
	}
	return Result[V]{
		Value:     entry.Value,
		FromCache: true,
		Stale:     age >= c.ttl,
		Age:       age,
		StoredAt:  entry.StoredAt,
	}
}
