package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘存储，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 key 并发写入。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type blobMeta struct {
	URL      string    `json:"url"`
	MIME     string    `json:"mime"`
	Size     int       `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}

func (s *fileStore) Get(ctx context.Context, key string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}

	bodyPath, metaPath := s.paths(key)
	rawMeta, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Blob{}, ErrNotFound
		}
		return Blob{}, err
	}
	var meta blobMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return Blob{}, fmt.Errorf("decode blob meta: %w", err)
	}
	// 哈希碰撞或损坏的元数据都按未命中处理。
	if meta.URL != key {
		return Blob{}, ErrNotFound
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Blob{}, ErrNotFound
		}
		return Blob{}, err
	}
	if len(body) != meta.Size {
		return Blob{}, ErrNotFound
	}

	return Blob{Bytes: body, MIME: meta.MIME, StoredAt: meta.StoredAt}, nil
}

func (s *fileStore) Put(ctx context.Context, key string, blob Blob) error {
	unlock := s.lockEntry(key)
	defer unlock()

	bodyPath, metaPath := s.paths(key)
	if _, err := os.Stat(metaPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return err
	}

	storedAt := blob.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	if err := writeAtomic(ctx, bodyPath, bytes.NewReader(blob.Bytes)); err != nil {
		return err
	}

	meta, err := json.Marshal(blobMeta{
		URL:      key,
		MIME:     blob.MIME,
		Size:     len(blob.Bytes),
		StoredAt: storedAt,
	})
	if err != nil {
		return err
	}
	// 元数据最后落盘，Get 以其存在作为条目完整的标志。
	return writeAtomic(ctx, metaPath, bytes.NewReader(meta))
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) paths(key string) (body string, meta string) {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	base := filepath.Join(s.basePath, name[:2], name)
	return base + ".body", base + ".meta"
}

func writeAtomic(ctx context.Context, target string, src io.Reader) error {
	tempFile, err := os.CreateTemp(filepath.Dir(target), ".blob-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, src)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
