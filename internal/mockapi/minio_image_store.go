package mockapi

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"image-chat-go/internal/config"
	"image-chat-go/pkg/storage"
)

// minioImageStore 把暂存图片放到 MinIO 对象存储中，
// 适用于多副本部署的模拟后端。过期清理交给桶的生命周期规则。
type minioImageStore struct {
	cfg config.MinIOConfig
}

// NewMinioImageStore 创建一个基于 MinIO 的 ImageStore。
// 调用前需要先完成 storage.InitMinIO。
func NewMinioImageStore(cfg config.MinIOConfig) ImageStore {
	return &minioImageStore{cfg: cfg}
}

// Put 把图片写入对象存储并返回其标识。
func (s *minioImageStore) Put(ctx context.Context, data []byte, mimeType string) (string, error) {
	id := uuid.NewString()
	if err := storage.PutImage(ctx, s.cfg.BucketName, id, data, mimeType); err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return id, nil
}

// Close 对 MinIO 实现是空操作：客户端是进程级全局的。
func (s *minioImageStore) Close() error { return nil }

// Get 从对象存储取回图片；对象缺失时按未找到处理。
func (s *minioImageStore) Get(ctx context.Context, id string) ([]byte, string, error) {
	data, mimeType, err := storage.GetImageWithType(ctx, s.cfg.BucketName, id)
	if err != nil {
		return nil, "", ErrImageNotFound
	}
	return data, mimeType, nil
}
