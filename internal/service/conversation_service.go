// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"image-chat-go/internal/config"
	"image-chat-go/internal/model"
	"image-chat-go/internal/repository"
	"image-chat-go/pkg/backend"
	"image-chat-go/pkg/log"
)

// DefaultMaxFileSize 是附件大小的默认上限（10 MiB）。
const DefaultMaxFileSize = 10 * 1024 * 1024

// defaultAllowedTypes 是附件 MIME 类型的默认白名单。
var defaultAllowedTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp"}

// Notifier 在每次有消息追加到日志时被回调（例如推送到 WebSocket）。
type Notifier interface {
	MessageAppended(email string, msg model.Message)
}

// ConversationService 是会话状态管理器：持有当前用户的有序消息日志、
// 待发送输入和忙碌标志，所有变更都经由它并触发持久化。
type ConversationService interface {
	// LoadFor 切换到指定用户：丢弃内存中的日志与待发送输入，
	// 从持久化加载该用户自己的历史。
	LoadFor(ctx context.Context, email string) error
	// Reset 清空内存状态（登出时调用），不触碰持久化的历史。
	Reset()
	Messages() []model.Message
	Pending() model.PendingInput
	Busy() bool
	SetText(text string)
	// AddAttachments 校验并暂存一批附件；批次中任何一个文件不合法
	// 则整批拒绝，一个都不暂存。
	AddAttachments(files []model.Attachment) error
	// RemoveAttachment 移除指定下标的已暂存附件。
	RemoveAttachment(index int) error
	ClearAttachments()
	// Send 执行一轮发送，返回本轮追加的消息。
	// 上一轮未完成时返回 ErrBusy，日志不变，也不会重复调用后端。
	Send(ctx context.Context) ([]model.Message, error)
	// ClearHistory 清空当前用户的内存日志与持久化历史。
	ClearHistory(ctx context.Context) error
	SetNotifier(n Notifier)
}

type conversationService struct {
	mu       sync.Mutex
	repo     repository.HistoryRepository
	client   backend.Client
	cfg      config.UploadConfig
	notifier Notifier

	email    string
	messages []model.Message
	pending  model.PendingInput
	busy     bool
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(repo repository.HistoryRepository, client backend.Client, cfg config.UploadConfig) ConversationService {
	return &conversationService{
		repo:   repo,
		client: client,
		cfg:    cfg,
	}
}

// SetNotifier 注册消息追加回调。
func (s *conversationService) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// LoadFor 切换活跃用户并加载其历史。不同用户的历史互不影响，
// 切换永远不会把两份历史合并。
func (s *conversationService) LoadFor(ctx context.Context, email string) error {
	messages, err := s.repo.LoadHistory(ctx, email)
	if err != nil {
		// 持久化故障降级为空历史，不阻断登录
		log.Errorf("[ConversationService] 加载历史失败，使用空历史: email=%s, err=%v", email, err)
		messages = []model.Message{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
	s.messages = messages
	s.pending = model.PendingInput{}
	s.busy = false
	log.Infof("[ConversationService] 已切换用户并加载历史: email=%s, messages=%d", email, len(messages))
	return nil
}

// Reset 丢弃内存中的身份视图；持久化的历史保持原样，重新登录可恢复。
func (s *conversationService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = ""
	s.messages = nil
	s.pending = model.PendingInput{}
	s.busy = false
}

// Messages 返回当前日志的副本。
func (s *conversationService) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Pending 返回待发送输入的副本。
func (s *conversationService) Pending() model.PendingInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	atts := make([]model.Attachment, len(s.pending.Attachments))
	copy(atts, s.pending.Attachments)
	return model.PendingInput{Text: s.pending.Text, Attachments: atts}
}

// Busy 报告是否有一次发送正在进行。
func (s *conversationService) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// SetText 更新待发送文本。发送进行中时依然合法：只有发送动作被禁用，
// 输入不被禁用。
func (s *conversationService) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Text = text
}

func (s *conversationService) allowedTypes() []string {
	if len(s.cfg.AllowedTypes) > 0 {
		return s.cfg.AllowedTypes
	}
	return defaultAllowedTypes
}

func (s *conversationService) maxFileSize() int64 {
	if s.cfg.MaxFileSize > 0 {
		return s.cfg.MaxFileSize
	}
	return DefaultMaxFileSize
}

// validateAttachment 校验单个附件：类型白名单 + 大小上限。
func (s *conversationService) validateAttachment(a model.Attachment) error {
	if a.IsRestored || a.Data == nil {
		return &ValidationError{File: a.Name, Reason: "restored attachment cannot be staged for sending"}
	}
	typeOK := false
	for _, t := range s.allowedTypes() {
		if strings.EqualFold(a.MimeType, t) {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return &ValidationError{File: a.Name, Reason: fmt.Sprintf("unsupported media type %q", a.MimeType)}
	}
	if a.Size > s.maxFileSize() {
		return &ValidationError{File: a.Name, Reason: fmt.Sprintf("file size %d exceeds limit %d", a.Size, s.maxFileSize())}
	}
	return nil
}

// AddAttachments 校验并暂存一批附件。整批原子：任何一个文件被拒绝，
// 其余文件也不会进入暂存区。
func (s *conversationService) AddAttachments(files []model.Attachment) error {
	for _, f := range files {
		if err := s.validateAttachment(f); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Attachments = append(s.pending.Attachments, files...)
	return nil
}

// RemoveAttachment 移除指定下标的已暂存附件。
func (s *conversationService) RemoveAttachment(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.pending.Attachments) {
		return &ValidationError{Reason: fmt.Sprintf("attachment index %d out of range", index)}
	}
	s.pending.Attachments = append(s.pending.Attachments[:index], s.pending.Attachments[index+1:]...)
	return nil
}

// ClearAttachments 移除所有已暂存附件。
func (s *conversationService) ClearAttachments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.Attachments = nil
}

// buildUserMessage 构造本轮的用户消息：概括文本与附件数量。
func buildUserMessage(text string, files []model.Attachment) model.Message {
	msg := model.Message{Kind: model.KindUser, CreatedAt: time.Now()}
	switch {
	case text != "" && len(files) > 0:
		msg.Text = fmt.Sprintf("%q with %d uploaded image(s).", text, len(files))
	case len(files) > 0:
		msg.Text = fmt.Sprintf("Uploaded %d image(s).", len(files))
	default:
		msg.Text = text
	}
	return msg
}

// metadataOnly 返回附件序列的元数据副本，结果消息不携带二进制内容。
func metadataOnly(files []model.Attachment) []model.Attachment {
	out := make([]model.Attachment, len(files))
	for i, f := range files {
		out[i] = f.Restorable()
	}
	return out
}

// buildResultMessage 按规范化结果中被填充的字段构造恰好一条结果消息；
// 四个字段全空时返回一条"无结果"的系统消息。
// 字段存在性的判定优先级：caption > similar_images > search_images > index_response。
func buildResultMessage(text string, files []model.Attachment, result *backend.Result) model.Message {
	now := time.Now()
	switch {
	case len(result.Caption) > 0:
		return model.Message{
			Kind:        model.KindCaption,
			Attachments: metadataOnly(files),
			Captions:    result.Caption,
			CreatedAt:   now,
		}
	case len(result.SimilarImages) > 0:
		// similar 消息只携带一张探测图：统一接口的结果不再按文件拆分
		var probe []model.Attachment
		if len(files) > 0 {
			probe = metadataOnly(files[:1])
		}
		return model.Message{
			Kind:        model.KindSimilar,
			Attachments: probe,
			Images:      result.SimilarImages,
			CreatedAt:   now,
		}
	case len(result.SearchImages) > 0:
		return model.Message{
			Kind:      model.KindSearch,
			Text:      text,
			Images:    result.SearchImages,
			CreatedAt: now,
		}
	case len(result.IndexResponse) > 0:
		return model.Message{
			Kind:          model.KindIndex,
			Attachments:   metadataOnly(files),
			IndexResponse: result.IndexResponse,
			CreatedAt:     now,
		}
	default:
		return model.Message{
			Kind:      model.KindSystem,
			Text:      "没有找到相关结果",
			CreatedAt: now,
		}
	}
}

// Send 执行一轮发送。
func (s *conversationService) Send(ctx context.Context) ([]model.Message, error) {
	// 1. 入口校验：需要活跃用户、空闲状态、非空输入
	s.mu.Lock()
	if s.email == "" {
		s.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	text := strings.TrimSpace(s.pending.Text)
	files := make([]model.Attachment, len(s.pending.Attachments))
	copy(files, s.pending.Attachments)
	if text == "" && len(files) == 0 {
		s.mu.Unlock()
		return nil, &ValidationError{Reason: "please enter text or upload an image"}
	}

	// 2. 乐观追加用户消息（同步、立即），随后才调用后端
	s.busy = true
	email := s.email
	userMsg := buildUserMessage(text, files)
	s.messages = append(s.messages, userMsg)
	s.mu.Unlock()

	s.persist(ctx, email)
	s.notify(email, userMsg)

	// 3. 调用后端统一 process 接口；期间文本编辑保持可用
	result, procErr := s.client.Process(ctx, text, files)

	s.mu.Lock()
	// 调用期间会话可能已切换到别的用户：此时内存视图和暂存输入
	// 都属于新用户，结果直接作废，绝不能写进新用户的日志，
	// 也不能把新用户的日志持久化到旧用户名下
	if s.email != email {
		s.mu.Unlock()
		log.Warnf("[ConversationService] 发送期间会话已切换，丢弃结果: email=%s", email)
		return []model.Message{userMsg}, procErr
	}

	// 4/5. 无论成败都释放忙碌标志并清空待发送输入；
	// 失败时保留已追加的用户消息，不追加结果消息
	s.busy = false
	s.pending = model.PendingInput{}
	if procErr != nil {
		s.mu.Unlock()
		log.Errorf("[ConversationService] 后端调用失败: email=%s, err=%v", email, procErr)
		return []model.Message{userMsg}, procErr
	}

	resultMsg := buildResultMessage(text, files, result)
	s.messages = append(s.messages, resultMsg)
	s.mu.Unlock()

	// 6. 每次日志变更后都按当前用户持久化，失败只记日志
	s.persist(ctx, email)
	s.notify(email, resultMsg)

	return []model.Message{userMsg, resultMsg}, nil
}

// ClearHistory 清空当前用户的内存日志与持久化历史。
// 只影响该用户自己的数据。
func (s *conversationService) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	if s.email == "" {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	email := s.email
	s.messages = nil
	s.mu.Unlock()

	if err := s.repo.ClearHistory(ctx, email); err != nil {
		// 持久化故障不向用户暴露
		log.Errorf("[ConversationService] 清空历史失败: email=%s, err=%v", email, err)
	}
	log.Infof("[ConversationService] 已清空历史: email=%s", email)
	return nil
}

// persist 把当前日志写入持久化。写入是尽力而为的：
// 失败只记日志，调用方的操作不受影响。
func (s *conversationService) persist(ctx context.Context, email string) {
	s.mu.Lock()
	// 快照前确认日志仍属于该用户，否则会把新用户的日志写到旧用户名下
	if s.email != email {
		s.mu.Unlock()
		return
	}
	snapshot := make([]model.Message, len(s.messages))
	copy(snapshot, s.messages)
	s.mu.Unlock()

	if err := s.repo.SaveHistory(ctx, email, snapshot); err != nil {
		log.Errorf("[ConversationService] 持久化历史失败: email=%s, err=%v", email, err)
	}
}

func (s *conversationService) notify(email string, msg model.Message) {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n != nil {
		n.MessageAppended(email, msg)
	}
}
