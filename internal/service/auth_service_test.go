package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"mediaportal/internal/config"
	"mediaportal/internal/model"
	"mediaportal/internal/notify"
	"mediaportal/internal/session"
	"mediaportal/internal/storage"
	"mediaportal/internal/transport"
)

func newAuthHarness(t *testing.T, h http.HandlerFunc) (*AuthService, *session.Session, *notify.Recorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sess := session.New(storage.NewMemoryStorage())
	rec := &notify.Recorder{}
	client := transport.NewClient(transport.Options{BaseURL: srv.URL, Credentials: sess, Notifier: rec})
	portal := config.PortalConfig{
		LoginPath:    "/api/v1/auth/user/login",
		RegisterPath: "/api/v1/users/register",
		SendCodePath: "/api/v1/users/send-verification-code",
	}
	return NewAuthService(client, sess, portal), sess, rec
}

func TestAuthService_Login(t *testing.T) {
	var got model.LoginRequest
	svc, sess, _ := newAuthHarness(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/user/login" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"code":200,"data":{"access_token":"jwt-abc","expires_in":3600},"message":"ok"}`)
	})

	res, err := svc.Login(context.Background(), model.LoginRequest{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.AccessToken != "jwt-abc" || res.ExpiresIn != 3600 {
		t.Errorf("result = %+v", res)
	}
	if got.Username != "alice" || got.Password != "pw" {
		t.Errorf("request body = %+v", got)
	}
	if sess.Token() != "jwt-abc" {
		t.Errorf("session token = %q", sess.Token())
	}
	if u := sess.User(); u == nil || u.Username != "alice" {
		t.Errorf("session user = %+v", u)
	}
}

func TestAuthService_LoginRejected(t *testing.T) {
	svc, sess, rec := newAuthHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"code":400,"message":"wrong password"}`)
	})

	_, err := svc.Login(context.Background(), model.LoginRequest{Username: "alice", Password: "bad"})
	if !errors.Is(err, transport.ErrRequestFailed) {
		t.Fatalf("err = %v, want ErrRequestFailed", err)
	}
	if sess.Authenticated() {
		t.Error("session populated after failed login")
	}
	if errs := rec.Errors(); len(errs) != 1 || errs[0] != "wrong password" {
		t.Errorf("notifications = %v", errs)
	}
}

func TestAuthService_LoginMissingToken(t *testing.T) {
	svc, _, _ := newAuthHarness(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"data":{}}`)
	})

	if _, err := svc.Login(context.Background(), model.LoginRequest{Username: "a", Password: "b"}); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
}

func TestAuthService_RegisterAndSendCode(t *testing.T) {
	paths := map[string]map[string]string{}
	svc, _, _ := newAuthHarness(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		paths[r.URL.Path] = body
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"code":200,"data":"ok"}`)
	})

	if err := svc.SendCode(context.Background(), "bob@example.com"); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	err := svc.Register(context.Background(), model.RegisterRequest{
		Username: "bob", Email: "bob@example.com", Password: "pw", VerificationCode: "123456",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if paths["/api/v1/users/send-verification-code"]["email"] != "bob@example.com" {
		t.Errorf("send-code body = %v", paths["/api/v1/users/send-verification-code"])
	}
	if paths["/api/v1/users/register"]["verificationCode"] != "123456" {
		t.Errorf("register body = %v", paths["/api/v1/users/register"])
	}
}

func TestAuthService_Logout(t *testing.T) {
	svc, sess, _ := newAuthHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	if err := sess.Login("tok", 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if sess.Authenticated() {
		t.Error("still authenticated")
	}
}
