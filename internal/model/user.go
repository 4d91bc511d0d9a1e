// Package model 包含了应用的数据模型定义。
package model

import "time"

// UserIdentity 代表一次登录后由身份提供方产生的用户身份。
// 会话期间不可变；登出只销毁会话中的身份，不会删除持久化的历史。
type UserIdentity struct {
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	PictureURL string    `json:"pictureUrl"`
	LoginAt    time.Time `json:"loginAt"`
}
