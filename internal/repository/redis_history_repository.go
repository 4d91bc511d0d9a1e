// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"image-chat-go/internal/model"
	"image-chat-go/pkg/log"
)

const profileKey = "session:profile"

type redisHistoryRepository struct {
	redisClient *redis.Client
}

// NewRedisHistoryRepository 创建一个基于 Redis 的 HistoryRepository。
// 每个用户的历史是一个 JSON 值，键为 chat_history_<email>；语义与文件
// 实现一致：按邮箱隔离、覆盖写入、后写覆盖先写。
func NewRedisHistoryRepository(redisClient *redis.Client) HistoryRepository {
	return &redisHistoryRepository{redisClient: redisClient}
}

func historyKey(email string) string {
	return historyKeyPrefix + email
}

// SaveProfile 覆盖写入当前活跃会话的用户资料。
func (r *redisHistoryRepository) SaveProfile(ctx context.Context, identity *model.UserIdentity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := r.redisClient.Set(ctx, profileKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set profile: %w", err)
	}
	return nil
}

// LoadProfile 读取持久化的会话资料；键不存在或内容损坏时返回 nil。
func (r *redisHistoryRepository) LoadProfile(ctx context.Context) (*model.UserIdentity, error) {
	data, err := r.redisClient.Get(ctx, profileKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	var identity model.UserIdentity
	if err := json.Unmarshal([]byte(data), &identity); err != nil {
		log.Warnf("[HistoryRepository] Redis 资料损坏，按不存在处理: %v", err)
		return nil, nil
	}
	return &identity, nil
}

// ClearProfile 删除会话资料槽位；重复调用是安全的。
func (r *redisHistoryRepository) ClearProfile(ctx context.Context) error {
	if err := r.redisClient.Del(ctx, profileKey).Err(); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// SaveHistory 序列化并覆盖写入该邮箱的消息日志，附件只存元数据。
func (r *redisHistoryRepository) SaveHistory(ctx context.Context, email string, messages []model.Message) error {
	data, err := json.Marshal(stripBinary(messages))
	if err != nil {
		return fmt.Errorf("failed to marshal chat history: %w", err)
	}
	if err := r.redisClient.Set(ctx, historyKey(email), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set chat history: %w", err)
	}
	return nil
}

// LoadHistory 反序列化该邮箱的消息日志，每个附件都会标记 IsRestored。
// 键缺失或内容损坏时返回空序列。
func (r *redisHistoryRepository) LoadHistory(ctx context.Context, email string) ([]model.Message, error) {
	data, err := r.redisClient.Get(ctx, historyKey(email)).Result()
	if err == redis.Nil {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	var messages []model.Message
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		log.Warnf("[HistoryRepository] Redis 历史损坏，返回空历史: email=%s, err=%v", email, err)
		return []model.Message{}, nil
	}
	return markRestored(messages), nil
}

// ClearHistory 只删除该邮箱的历史；重复调用是安全的。
func (r *redisHistoryRepository) ClearHistory(ctx context.Context, email string) error {
	if err := r.redisClient.Del(ctx, historyKey(email)).Err(); err != nil {
		return fmt.Errorf("failed to delete chat history: %w", err)
	}
	return nil
}
