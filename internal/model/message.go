package model

import "time"

// Role 消息发送方
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// MediaKind 媒体类型，决定走同步图片接口还是异步视频接口
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Message 会话中的一条记录。系统消息的 MediaLocator 为空表示仍在处理中。
type Message struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	MediaLocator string    `json:"media_url"`
	MediaKind    MediaKind `json:"media_type"`
	CreatedAt    time.Time `json:"timestamp"`
}

// Pending reports whether a system response is still awaiting its result.
func (m Message) Pending() bool {
	return m.Role == RoleAI && m.MediaLocator == ""
}

// MessagePatch 按 ID 更新消息时要替换的字段，nil 表示不变
type MessagePatch struct {
	MediaLocator *string
}

func (p MessagePatch) Apply(m *Message) {
	if p.MediaLocator != nil {
		m.MediaLocator = *p.MediaLocator
	}
}

// ProgressEvent 视频进度通道推送的状态数据
type ProgressEvent struct {
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
}

const (
	ProgressCompleted = "completed"
	ProgressError     = "error"
)
