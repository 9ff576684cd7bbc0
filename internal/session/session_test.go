package session

import (
	"testing"
	"time"

	"mediaportal/internal/model"
	"mediaportal/internal/storage"
)

func TestSession_LoginLogout(t *testing.T) {
	store := storage.NewMemoryStorage()
	s := New(store)

	if s.Authenticated() {
		t.Fatal("new session should be signed out")
	}

	if err := s.Login("tok", time.Hour, &model.UserInfo{Username: "bob"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if s.Token() != "tok" {
		t.Errorf("Token = %q, want tok", s.Token())
	}
	if u := s.User(); u == nil || u.Username != "bob" {
		t.Errorf("User = %+v", u)
	}
	persisted, err := store.Load()
	if err != nil || persisted.Token != "tok" {
		t.Errorf("store not updated: %+v, %v", persisted, err)
	}

	if err := s.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if s.Authenticated() {
		t.Error("still authenticated after Logout")
	}
	if _, err := store.Load(); err == nil {
		t.Error("store still holds session after Logout")
	}
}

func TestSession_LoginEmptyToken(t *testing.T) {
	if err := New(nil).Login("", 0, nil); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSession_Restore(t *testing.T) {
	store := storage.NewMemoryStorage()
	if err := store.Save(&model.SessionState{Token: "saved", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	s := New(store)
	if err := s.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.Token() != "saved" {
		t.Errorf("Token = %q, want saved", s.Token())
	}
}

func TestSession_RestoreEmpty(t *testing.T) {
	s := New(storage.NewMemoryStorage())
	if err := s.Restore(); err != nil {
		t.Fatalf("Restore on empty store: %v", err)
	}
	if s.Authenticated() {
		t.Error("authenticated without stored session")
	}
}

func TestSession_RestoreExpiredClearsStore(t *testing.T) {
	store := storage.NewMemoryStorage()
	if err := store.Save(&model.SessionState{Token: "old", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}

	s := New(store)
	if err := s.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if s.Authenticated() {
		t.Error("expired token restored")
	}
	if _, err := store.Load(); err == nil {
		t.Error("expired session left in store")
	}
}

func TestSession_TokenExpiresInMemory(t *testing.T) {
	s := New(nil)
	now := time.Now()
	s.now = func() time.Time { return now }

	if err := s.Login("tok", time.Minute, nil); err != nil {
		t.Fatal(err)
	}
	if !s.Authenticated() {
		t.Fatal("should be authenticated right after login")
	}

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	if s.Authenticated() {
		t.Error("token should have expired")
	}
}

func TestSession_UpdateUserInfo(t *testing.T) {
	s := New(nil)
	if err := s.UpdateUserInfo(model.UserInfo{Email: "x@y"}); err != nil {
		t.Fatalf("UpdateUserInfo signed out: %v", err)
	}
	if s.User() != nil {
		t.Error("signed-out update created a user")
	}

	if err := s.Login("tok", 0, &model.UserInfo{Username: "carol", Roles: "user"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateUserInfo(model.UserInfo{Email: "carol@example.com"}); err != nil {
		t.Fatal(err)
	}
	u := s.User()
	if u.Username != "carol" || u.Email != "carol@example.com" || u.Roles != "user" {
		t.Errorf("User = %+v", u)
	}
}
