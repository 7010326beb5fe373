package cache

import (
	"context"
	"errors"
	"time"
)

// Store 负责媒体字节的持久化。磁盘布局遵循：
//
//	<BlobStoragePath>/<sha256[:2]>/<sha256>.body   # 原始字节
//	<BlobStoragePath>/<sha256[:2]>/<sha256>.meta   # {url, mime, stored_at}
//
// 条目写入一次后不再覆盖。
type Store interface {
	// Get 读取 key 对应的条目，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) (Blob, error)

	// Put 写入条目；key 已存在时保持原值并返回 nil。实现需通过临时文件 + rename 保证原子性。
	Put(ctx context.Context, key string, blob Blob) error
}

// Blob 是一份已缓存的媒体内容。
type Blob struct {
	Bytes    []byte
	MIME     string
	StoredAt time.Time
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
