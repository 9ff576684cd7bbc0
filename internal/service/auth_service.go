package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediaportal/internal/config"
	"mediaportal/internal/model"
	"mediaportal/internal/session"
	"mediaportal/internal/transport"
	"mediaportal/pkg/logger"
)

var ErrMissingToken = errors.New("login response missing access token")

type AuthService struct {
	client  *transport.Client
	session *session.Session
	portal  config.PortalConfig
}

func NewAuthService(client *transport.Client, sess *session.Session, portal config.PortalConfig) *AuthService {
	return &AuthService{
		client:  client,
		session: sess,
		portal:  portal,
	}
}

// Login 登录成功后把凭证写入会话（并持久化）
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResult, error) {
	resp, err := s.client.Post(ctx, s.portal.LoginPath, req)
	if err != nil {
		return nil, err
	}

	result, err := transport.Unwrap[model.LoginResult](resp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, ErrMissingToken
	}

	user := &model.UserInfo{Username: req.Username}
	if err := s.session.Login(result.AccessToken, time.Duration(result.ExpiresIn)*time.Second, user); err != nil {
		return nil, err
	}

	logger.Infof("Signed in as %s", req.Username)
	return &result, nil
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) error {
	_, err := s.client.Post(ctx, s.portal.RegisterPath, req)
	return err
}

// SendCode 发送注册验证码
func (s *AuthService) SendCode(ctx context.Context, email string) error {
	_, err := s.client.Post(ctx, s.portal.SendCodePath, model.SendCodeRequest{Email: email})
	return err
}

func (s *AuthService) Logout() error {
	return s.session.Logout()
}

func (s *AuthService) Session() *session.Session {
	return s.session
}
