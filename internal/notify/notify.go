package notify

import (
	"sync"
	"time"

	"mediaportal/internal/model"
	"mediaportal/pkg/logger"
)

const (
	LevelSuccess  = "success"
	LevelError    = "error"
	LevelRedirect = "redirect"
)

// Notifier 面向用户的一次性提示通道
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier 把提示写进日志，CLI 和无前端时使用
type LogNotifier struct{}

func (LogNotifier) Success(msg string) {
	logger.Info(msg)
}

func (LogNotifier) Error(msg string) {
	logger.Error(msg)
}

// Multi fans a notification out to every wrapped notifier.
type Multi []Notifier

func (m Multi) Success(msg string) {
	for _, n := range m {
		n.Success(msg)
	}
}

func (m Multi) Error(msg string) {
	for _, n := range m {
		n.Error(msg)
	}
}

// Broadcaster 将提示转发给所有订阅者（浏览器 SSE 连接），订阅者读得慢时丢弃
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan model.Notification]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[chan model.Notification]struct{}),
	}
}

func (b *Broadcaster) Success(msg string) {
	b.publish(LevelSuccess, msg)
}

func (b *Broadcaster) Error(msg string) {
	b.publish(LevelError, msg)
}

// Redirect 通知前端跳转，例如凭证失效后回到登录页
func (b *Broadcaster) Redirect(location string) {
	b.publish(LevelRedirect, location)
}

func (b *Broadcaster) publish(level, msg string) {
	n := model.Notification{Level: level, Message: msg, Timestamp: time.Now().Unix()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
			// drop if client not reading
		}
	}
}

// Subscribe returns a buffered feed and a cancel func that must be called once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan model.Notification, func()) {
	ch := make(chan model.Notification, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Recorder 记录收到的提示，测试和 CLI 汇总结果时使用
type Recorder struct {
	mu    sync.Mutex
	items []model.Notification
}

func (r *Recorder) Success(msg string) {
	r.add(LevelSuccess, msg)
}

func (r *Recorder) Error(msg string) {
	r.add(LevelError, msg)
}

func (r *Recorder) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, model.Notification{Level: level, Message: msg, Timestamp: time.Now().Unix()})
}

func (r *Recorder) All() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Errors returns the messages of error-level notifications in order.
func (r *Recorder) Errors() []string {
	var out []string
	for _, n := range r.All() {
		if n.Level == LevelError {
			out = append(out, n.Message)
		}
	}
	return out
}

func (r *Recorder) Successes() []string {
	var out []string
	for _, n := range r.All() {
		if n.Level == LevelSuccess {
			out = append(out, n.Message)
		}
	}
	return out
}
