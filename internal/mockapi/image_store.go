package mockapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrImageNotFound 表示图片不存在或已过期。
var ErrImageNotFound = errors.New("image not found or expired")

// ImageStore 暂存通过 index 意图提交的图片，供 GET /image/{id} 取回。
// 条目在固定 TTL 之后过期。
type ImageStore interface {
	Put(ctx context.Context, data []byte, mimeType string) (string, error)
	Get(ctx context.Context, id string) (data []byte, mimeType string, err error)
	// Close 释放实现持有的后台资源；重复调用是安全的。
	Close() error
}

type imageEntry struct {
	data      []byte
	mimeType  string
	expiresAt time.Time
}

type memoryImageStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	entries  map[string]imageEntry
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryImageStore 创建一个内存实现的 ImageStore。
// 后台清扫协程运行到 Close 被调用为止。
func NewMemoryImageStore(ttl time.Duration) ImageStore {
	s := &memoryImageStore{
		ttl:     ttl,
		entries: make(map[string]imageEntry),
		stop:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Close 停止后台清扫协程。
func (s *memoryImageStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}

// Put 暂存一张图片并返回其标识。
func (s *memoryImageStore) Put(_ context.Context, data []byte, mimeType string) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = imageEntry{
		data:      data,
		mimeType:  mimeType,
		expiresAt: time.Now().Add(s.ttl),
	}
	return id, nil
}

// Get 取回一张暂存的图片；不存在或已过期时返回 ErrImageNotFound。
func (s *memoryImageStore) Get(_ context.Context, id string) ([]byte, string, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, "", ErrImageNotFound
	}
	return entry.data, entry.mimeType, nil
}

// janitor 周期性清理过期条目。
func (s *memoryImageStore) janitor() {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for id, entry := range s.entries {
				if now.After(entry.expiresAt) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
