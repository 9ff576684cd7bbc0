package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"mediaportal/internal/model"
	"mediaportal/internal/storage"
	"mediaportal/pkg/logger"
)

var ErrNotAuthenticated = errors.New("not signed in")

// Session 持有当前登录凭证，显式注入到 transport 和路由守卫中。
// 生命周期: Restore (启动时从存储恢复) -> Login -> Logout。
type Session struct {
	mu    sync.RWMutex
	state model.SessionState
	store storage.Storage
	now   func() time.Time
}

func New(store storage.Storage) *Session {
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	return &Session{
		store: store,
		now:   time.Now,
	}
}

// Restore 从存储加载上次的登录状态，已过期的凭证会被清除
func (s *Session) Restore() error {
	state, err := s.store.Load()
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	if state.Expired(s.now()) {
		logger.Info("Stored session has expired, discarding")
		return s.Logout()
	}

	s.mu.Lock()
	s.state = *state
	s.mu.Unlock()
	return nil
}

func (s *Session) Login(token string, expiresIn time.Duration, user *model.UserInfo) error {
	if token == "" {
		return errors.New("empty access token")
	}

	state := model.SessionState{Token: token, User: user}
	if expiresIn > 0 {
		state.ExpiresAt = s.now().Add(expiresIn)
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if err := s.store.Save(&state); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Logout 清空内存与持久化的凭证
func (s *Session) Logout() error {
	s.mu.Lock()
	s.state = model.SessionState{}
	s.mu.Unlock()

	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Token returns the bearer token, or "" when signed out or expired.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.Expired(s.now()) {
		return ""
	}
	return s.state.Token
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

func (s *Session) User() *model.UserInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.User == nil {
		return nil
	}
	u := *s.state.User
	return &u
}

// UpdateUserInfo 局部更新用户信息，未登录时不做任何事
func (s *Session) UpdateUserInfo(partial model.UserInfo) error {
	s.mu.Lock()
	if s.state.Token == "" || s.state.User == nil {
		s.mu.Unlock()
		return nil
	}
	u := *s.state.User
	if partial.ID != "" {
		u.ID = partial.ID
	}
	if partial.Username != "" {
		u.Username = partial.Username
	}
	if partial.Email != "" {
		u.Email = partial.Email
	}
	if partial.Roles != "" {
		u.Roles = partial.Roles
	}
	s.state.User = &u
	state := s.state
	s.mu.Unlock()

	return s.store.Save(&state)
}
