package conversation

import (
	"sync"

	"mediaportal/internal/model"
)

type Op string

const (
	OpAppend Op = "append"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
	OpClear  Op = "clear"
)

// Change 一次变更通知，Message 为变更后的消息（clear 时为空）
type Change struct {
	Op      Op            `json:"op"`
	Message model.Message `json:"message"`
}

// Conversation 按插入顺序保存消息。插入顺序即展示顺序，任何操作都不会重排已有消息。
type Conversation struct {
	mu       sync.RWMutex
	messages []model.Message
	ids      map[string]struct{}
	subs     map[chan Change]struct{}
}

func New() *Conversation {
	return &Conversation{
		ids:  make(map[string]struct{}),
		subs: make(map[chan Change]struct{}),
	}
}

// Append 是新消息进入序列的唯一入口
func (c *Conversation) Append(msg model.Message) error {
	if msg.ID == "" {
		return ErrInvalidMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// id 在整个会话生命周期内唯一，删除后也不复用
	if _, exists := c.ids[msg.ID]; exists {
		return ErrDuplicateID
	}

	c.ids[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	c.publish(Change{Op: OpAppend, Message: msg})
	return nil
}

func (c *Conversation) UpdateByID(id string, patch model.MessagePatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return ErrMessageNotFound
	}

	patch.Apply(&c.messages[i])
	c.publish(Change{Op: OpUpdate, Message: c.messages[i]})
	return nil
}

func (c *Conversation) RemoveByID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return ErrMessageNotFound
	}

	removed := c.messages[i]
	c.messages = append(c.messages[:i:i], c.messages[i+1:]...)
	c.publish(Change{Op: OpRemove, Message: removed})
	return nil
}

// Clear 开始新的会话，已用过的 id 仍然保留
func (c *Conversation) Clear() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.messages
	c.messages = nil
	c.publish(Change{Op: OpClear})
	return old
}

func (c *Conversation) Get(id string) (model.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i := c.indexOf(id)
	if i < 0 {
		return model.Message{}, false
	}
	return c.messages[i], true
}

// List returns a snapshot in display order.
func (c *Conversation) List() []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Subscribe 订阅变更流，返回的 cancel 必须调用；订阅者读得慢时丢弃变更而不阻塞写入
func (c *Conversation) Subscribe(buffer int) (<-chan Change, func()) {
	_, ch, cancel := c.Watch(buffer)
	return ch, cancel
}

// Watch 在同一把锁内取快照并订阅：快照之后的变更只出现在变更流里，不会重复
func (c *Conversation) Watch(buffer int) ([]model.Message, <-chan Change, func()) {
	ch := make(chan Change, buffer)

	c.mu.Lock()
	snapshot := make([]model.Message, len(c.messages))
	copy(snapshot, c.messages)
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return snapshot, ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Conversation) indexOf(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// publish must be called with c.mu held.
func (c *Conversation) publish(change Change) {
	for ch := range c.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
