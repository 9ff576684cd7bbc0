package model

import "time"

// Envelope 门户接口的标准返回格式，code 和 success 均可缺省
type Envelope[T any] struct {
	Code      *int   `json:"code,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Data      T      `json:"data"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type LoginResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TicketResponse 视频接口返回的任务凭据
type TicketResponse struct {
	TaskID string `json:"task_id"`
}

type UserInfo struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Roles    string `json:"roles,omitempty"`
}

// SessionState 需要跨进程恢复的登录状态
type SessionState struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	User      *UserInfo `json:"user,omitempty"`
}

// Expired reports whether the token carries an expiry that has passed.
func (s SessionState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Notification 推送给前端的一次性提示
type Notification struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
