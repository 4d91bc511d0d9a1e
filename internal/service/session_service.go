// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"sync"

	"image-chat-go/internal/config"
	"image-chat-go/internal/model"
	"image-chat-go/internal/repository"
	"image-chat-go/pkg/log"
	"image-chat-go/pkg/token"
)

// SessionService 是会话管理器：持有当前用户身份（单个活跃会话槽位），
// 登录时切换活跃历史，登出时清空会话但保留已存储的历史。
type SessionService interface {
	// Restore 在进程启动时恢复上一次持久化的会话（若存在）。
	Restore(ctx context.Context)
	// Login 用身份提供方的凭证替换当前活跃身份，并加载新用户的历史。
	// 返回身份与网关自己签发的会话 token。
	Login(ctx context.Context, credential string) (*model.UserIdentity, string, error)
	// Logout 清空活跃身份与内存视图；持久化的历史保持不动，
	// 重新登录即可恢复。
	Logout(ctx context.Context) error
	// Current 返回当前活跃身份，未登录时为 nil。
	Current() *model.UserIdentity
	// IssueWebsocketToken 为当前用户签发一次 WebSocket 握手用的短时效 token。
	IssueWebsocketToken() (string, error)
}

type sessionService struct {
	mu           sync.RWMutex
	current      *model.UserIdentity
	repo         repository.HistoryRepository
	conversation ConversationService
	jwtManager   *token.JWTManager
	cfg          config.SessionConfig
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(repo repository.HistoryRepository, conversation ConversationService, jwtManager *token.JWTManager, cfg config.SessionConfig) SessionService {
	return &sessionService{
		repo:         repo,
		conversation: conversation,
		jwtManager:   jwtManager,
		cfg:          cfg,
	}
}

// Restore 尝试从持久化的资料槽位恢复会话，对应浏览器端首屏的本地恢复。
func (s *sessionService) Restore(ctx context.Context) {
	identity, err := s.repo.LoadProfile(ctx)
	if err != nil {
		log.Errorf("[SessionService] 恢复会话资料失败: %v", err)
		return
	}
	if identity == nil {
		return
	}

	s.mu.Lock()
	s.current = identity
	s.mu.Unlock()

	if err := s.conversation.LoadFor(ctx, identity.Email); err != nil {
		log.Errorf("[SessionService] 恢复历史失败: email=%s, err=%v", identity.Email, err)
	}
	log.Infof("[SessionService] 会话已恢复: email=%s", identity.Email)
}

// Login 解析身份凭证，切换活跃会话并加载新用户的历史。
// 不同用户的历史永不合并；不支持并发的多身份登录（单活跃槽位）。
func (s *sessionService) Login(ctx context.Context, credential string) (*model.UserIdentity, string, error) {
	identity, err := token.ParseIdentityCredential(credential, s.cfg.VerifyCredential, s.cfg.CredentialSecret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse login credential: %w", err)
	}

	// 1. 先切换会话状态：丢弃旧视图，加载新用户自己的历史
	if err := s.conversation.LoadFor(ctx, identity.Email); err != nil {
		return nil, "", fmt.Errorf("failed to load history for %s: %w", identity.Email, err)
	}

	s.mu.Lock()
	s.current = identity
	s.mu.Unlock()

	// 2. 持久化会话槽位（尽力而为）
	if err := s.repo.SaveProfile(ctx, identity); err != nil {
		log.Errorf("[SessionService] 持久化会话资料失败: email=%s, err=%v", identity.Email, err)
	}

	// 3. 签发网关自己的会话 token
	sessionToken, err := s.jwtManager.GenerateSessionToken(identity)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue session token: %w", err)
	}

	log.Infof("[SessionService] 用户登录成功: email=%s", identity.Email)
	return identity, sessionToken, nil
}

// Logout 销毁会话中的身份；底层存储的历史不删除。
func (s *sessionService) Logout(ctx context.Context) error {
	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current == nil {
		return ErrNoActiveSession
	}

	s.conversation.Reset()
	if err := s.repo.ClearProfile(ctx); err != nil {
		log.Errorf("[SessionService] 清除会话资料失败: %v", err)
	}
	log.Infof("[SessionService] 用户已登出: email=%s", current.Email)
	return nil
}

// Current 返回当前活跃身份。
func (s *sessionService) Current() *model.UserIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// IssueWebsocketToken 为当前用户签发 WebSocket 握手 token。
func (s *sessionService) IssueWebsocketToken() (string, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current == nil {
		return "", ErrNoActiveSession
	}
	return s.jwtManager.GenerateWebsocketToken(current)
}
