// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"image-chat-go/internal/model"
	"image-chat-go/pkg/log"
)

// HistoryRepository 定义了用户资料与会话历史的持久化操作接口。
// 历史按用户邮箱隔离；资料是单个活跃会话槽位，后写覆盖先写。
// 所有读取操作都是尽力而为：数据缺失或损坏时返回安全的空值，
// 持久化永远不是界面可用性的硬依赖。
type HistoryRepository interface {
	SaveProfile(ctx context.Context, identity *model.UserIdentity) error
	LoadProfile(ctx context.Context) (*model.UserIdentity, error)
	ClearProfile(ctx context.Context) error
	SaveHistory(ctx context.Context, email string, messages []model.Message) error
	LoadHistory(ctx context.Context, email string) ([]model.Message, error)
	ClearHistory(ctx context.Context, email string) error
}

const historyKeyPrefix = "chat_history_"

// stripBinary 返回消息序列的可持久化投影：
// 每个附件只保留元数据，二进制内容从不落盘。
func stripBinary(messages []model.Message) []model.Message {
	out := make([]model.Message, len(messages))
	for i, m := range messages {
		out[i] = m
		if len(m.Attachments) > 0 {
			atts := make([]model.Attachment, len(m.Attachments))
			for j, a := range m.Attachments {
				atts[j] = a.Restorable()
			}
			out[i].Attachments = atts
		}
	}
	return out
}

// markRestored 把从持久化读回的每个附件标记为已恢复。
func markRestored(messages []model.Message) []model.Message {
	for i := range messages {
		for j := range messages[i].Attachments {
			messages[i].Attachments[j].IsRestored = true
		}
	}
	return messages
}

// sanitizeEmail 把邮箱转成可安全用作文件名的形式。
func sanitizeEmail(email string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_', r == '@':
			return r
		default:
			return '_'
		}
	}, email)
}

type fileHistoryRepository struct {
	mu      sync.RWMutex
	dataDir string
}

// NewFileHistoryRepository 创建一个基于 JSON 文件的 HistoryRepository。
// 每个用户一个历史文件，资料占用固定的单槽文件。
func NewFileHistoryRepository(dataDir string) (HistoryRepository, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history data dir: %w", err)
	}
	return &fileHistoryRepository{dataDir: dataDir}, nil
}

func (r *fileHistoryRepository) historyPath(email string) string {
	return filepath.Join(r.dataDir, historyKeyPrefix+sanitizeEmail(email)+".json")
}

func (r *fileHistoryRepository) profilePath() string {
	return filepath.Join(r.dataDir, "profile.json")
}

// SaveProfile 覆盖写入当前活跃会话的用户资料。
func (r *fileHistoryRepository) SaveProfile(_ context.Context, identity *model.UserIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := os.WriteFile(r.profilePath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

// LoadProfile 读取持久化的会话资料；不存在或损坏时返回 nil。
func (r *fileHistoryRepository) LoadProfile(_ context.Context) (*model.UserIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.profilePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	var identity model.UserIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		log.Warnf("[HistoryRepository] 资料文件损坏，按不存在处理: %v", err)
		return nil, nil
	}
	return &identity, nil
}

// ClearProfile 删除会话资料槽位；重复调用是安全的。
func (r *fileHistoryRepository) ClearProfile(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.profilePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	return nil
}

// SaveHistory 序列化并覆盖写入该邮箱的消息日志，附件只存元数据。
func (r *fileHistoryRepository) SaveHistory(_ context.Context, email string, messages []model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(stripBinary(messages))
	if err != nil {
		return fmt.Errorf("failed to marshal chat history: %w", err)
	}
	if err := os.WriteFile(r.historyPath(email), data, 0o644); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	return nil
}

// LoadHistory 反序列化该邮箱的消息日志，每个附件都会标记 IsRestored。
// 文件缺失或内容损坏时返回空序列。
func (r *fileHistoryRepository) LoadHistory(_ context.Context, email string) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.historyPath(email))
	if os.IsNotExist(err) {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}
	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		log.Warnf("[HistoryRepository] 历史文件损坏，返回空历史: email=%s, err=%v", email, err)
		return []model.Message{}, nil
	}
	return markRestored(messages), nil
}

// ClearHistory 只删除该邮箱的历史；重复调用是安全的。
func (r *fileHistoryRepository) ClearHistory(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.historyPath(email)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove chat history: %w", err)
	}
	return nil
}
