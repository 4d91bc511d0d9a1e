// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"time"
)

// MessageKind 标识消息在会话日志中的种类。
type MessageKind string

const (
	KindUser    MessageKind = "user"    // 用户输入的一轮
	KindSystem  MessageKind = "system"  // 系统提示（无结果 / 错误说明）
	KindCaption MessageKind = "caption" // 图片描述结果
	KindSimilar MessageKind = "similar" // 相似图片结果
	KindSearch  MessageKind = "search"  // 文本搜图结果
	KindIndex   MessageKind = "index"   // 图片入库结果
)

// Attachment 代表一张用户提交的图片。
// Data 只在内存中存在，从不序列化；从持久化恢复的附件只有元数据，
// IsRestored 为 true，且不允许再次发送到后端。
type Attachment struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
	LastModified int64  `json:"lastModified,omitempty"`
	IsRestored   bool   `json:"isRestored,omitempty"`
	Data         []byte `json:"-"`
}

// Restorable 返回附件的可持久化投影：丢弃二进制内容，仅保留元数据。
func (a Attachment) Restorable() Attachment {
	return Attachment{
		Name:         a.Name,
		Size:         a.Size,
		MimeType:     a.MimeType,
		LastModified: a.LastModified,
		IsRestored:   a.IsRestored,
	}
}

// Message 代表会话日志中的一条消息。日志只追加，单条消息创建后不再修改；
// 整个日志仅在登出重置或用户清空历史时整体清除。
// 各 Kind 使用的字段：
//   - user:    Text
//   - system:  Text
//   - caption: Attachments + Captions
//   - similar: Attachments（探测图）+ Images
//   - search:  Text + Images
//   - index:   Attachments + IndexResponse
type Message struct {
	Kind          MessageKind     `json:"kind"`
	Text          string          `json:"text,omitempty"`
	Attachments   []Attachment    `json:"attachments,omitempty"`
	Captions      []string        `json:"captions,omitempty"`
	Images        []string        `json:"images,omitempty"`
	IndexResponse json.RawMessage `json:"indexResponse,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// PendingInput 代表尚未发送的输入：已键入的文本与已暂存的附件。
// 瞬态数据，从不持久化。
type PendingInput struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}
