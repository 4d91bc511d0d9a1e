// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
)

// ErrBusy 表示上一次发送尚未完成，新的发送被拒绝（无副作用）。
var ErrBusy = errors.New("a send is already in flight")

// ErrNoActiveSession 表示当前没有已登录的用户身份。
var ErrNoActiveSession = errors.New("no active session")

// ValidationError 表示一次输入校验失败：非法的附件类型/大小，或空发送。
// 校验失败立即反馈给用户并阻止操作，不产生任何状态变更。
type ValidationError struct {
	Reason string
	File   string // 触发校验失败的文件名，针对整体校验时为空
}

func (e *ValidationError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("validation failed for %q: %s", e.File, e.Reason)
	}
	return "validation failed: " + e.Reason
}

// IsValidation 报告 err 是否是一个校验错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
