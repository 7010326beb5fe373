package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/scrapn/scrapn/internal/sniff"
)

// BlobFetchFunc 抓取原始地址的字节，hint 为上游 Content-Type（可为空）。
type BlobFetchFunc func(ctx context.Context, rawURL string) (body []byte, hint string, err error)

// BlobResult 描述一次 GetOrFetch 的结果，FromCache/Shared 语义与 Result 相同。
type BlobResult struct {
	Blob
	Key       string
	FromCache bool
	Shared    bool
}

// BlobOption 调整 BlobCache 的可选行为。
type BlobOption func(*BlobCache)

// WithBlobStore 启用磁盘持久化，内存未命中时先查磁盘。
func WithBlobStore(store Store) BlobOption {
	return func(c *BlobCache) { c.store = store }
}

// WithBlobLogger 用于记录持久化失败等不影响请求结果的问题。
func WithBlobLogger(logger *logrus.Logger) BlobOption {
	return func(c *BlobCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBlobClock 注入时钟。
func WithBlobClock(now func() time.Time) BlobOption {
	return func(c *BlobCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithBlobName 设置指标标签，默认 "blob"。
func WithBlobName(name string) BlobOption {
	return func(c *BlobCache) {
		if name != "" {
			c.name = name
		}
	}
}

// WithBlobMetrics 注入命中统计。
func WithBlobMetrics(m Metrics) BlobOption {
	return func(c *BlobCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// BlobCache 是永久的媒体缓存：每个规范化地址只写入一次，之后不再过期或覆盖。
type BlobCache struct {
	name    string
	now     func() time.Time
	metrics Metrics
	logger  *logrus.Logger
	store   Store

	mu      sync.RWMutex
	entries map[string]Blob
	group   singleflight.Group
}

// NewBlobCache 创建媒体缓存。
func NewBlobCache(opts ...BlobOption) *BlobCache {
	c := &BlobCache{
		name:    "blob",
		now:     time.Now,
		metrics: NoopMetrics{},
		logger:  logrus.StandardLogger(),
		entries: make(map[string]Blob),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name 返回缓存名称。
func (c *BlobCache) Name() string { return c.name }

// Len 返回内存中的条目数。
func (c *BlobCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Persistent 表示是否启用了磁盘持久化。
func (c *BlobCache) Persistent() bool {
	return c.store != nil
}

// GetOrFetch 以 CanonicalURL(rawURL) 为键查找媒体；未命中时与同键的进行中抓取合并或亲自抓取。
// fetch 收到的是调用方传入的原始地址，规范化只作用于缓存键。
func (c *BlobCache) GetOrFetch(ctx context.Context, rawURL string, fetch BlobFetchFunc) (BlobResult, error) {
	return c.GetOrFetchVariant(ctx, rawURL, "", fetch)
}

// GetOrFetchVariant 与 GetOrFetch 相同，但缓存键为 CanonicalURL(rawURL) + "#" + variant，
// 用于同一原图的派生版本（如缩放后的图片）。variant 为空时等同于 GetOrFetch。
func (c *BlobCache) GetOrFetchVariant(ctx context.Context, rawURL, variant string, fetch BlobFetchFunc) (BlobResult, error) {
	key, err := CanonicalURL(rawURL)
	if err != nil {
		return BlobResult{}, err
	}
	if variant != "" {
		key += "#" + variant
	}

	if blob, ok := c.lookup(key); ok {
		c.metrics.CacheHit(c.name)
		return BlobResult{Blob: blob, Key: key, FromCache: true}, nil
	}

	val, owner, err := flight(ctx, &c.group, key, func() (interface{}, error) {
		if blob, ok := c.lookup(key); ok {
			return BlobResult{Blob: blob, Key: key, FromCache: true}, nil
		}
		if blob, ok := c.loadPersisted(ctx, key); ok {
			return BlobResult{Blob: c.commit(key, blob), Key: key, FromCache: true}, nil
		}

		body, hint, err := fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		blob := c.commit(key, Blob{
			Bytes:    body,
			MIME:     sniff.Detect(body, hint),
			StoredAt: c.now(),
		})
		c.persist(context.WithoutCancel(ctx), key, blob)
		return BlobResult{Blob: blob, Key: key}, nil
	}, func() { c.metrics.CacheFetchFailed(c.name) })
	if err != nil {
		return BlobResult{}, err
	}

	res := val.(BlobResult)
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

func (c *BlobCache) lookup(key string) (Blob, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	blob, ok := c.entries[key]
	return blob, ok
}

// commit 写入内存；键已存在时保留先写入的内容并返回它。
func (c *BlobCache) commit(key string, blob Blob) Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing
	}
	c.entries[key] = blob
	return blob
}

func (c *BlobCache) loadPersisted(ctx context.Context, key string) (Blob, bool) {
	if c.store == nil {
		return Blob{}, false
	}
	blob, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.WithFields(logrus.Fields{
				"action": "blob_store_read",
				"key":    key,
			}).WithError(err).Warn("blob_store_read_failed")
		}
		return Blob{}, false
	}
	return blob, true
}

func (c *BlobCache) persist(ctx context.Context, key string, blob Blob) {
	if c.store == nil {
		return
	}
	if err := c.store.Put(ctx, key, blob); err != nil {
		c.logger.WithFields(logrus.Fields{
			"action": "blob_store_write",
			"key":    key,
			"bytes":  len(blob.Bytes),
		}).WithError(err).Warn("blob_store_write_failed")
	}
}
