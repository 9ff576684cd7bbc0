package main

import (
	"fmt"
	"io"

	"mediaportal/internal/config"
	"mediaportal/internal/conversation"
	"mediaportal/internal/notify"
	"mediaportal/internal/preview"
	"mediaportal/internal/service"
	"mediaportal/internal/session"
	"mediaportal/internal/storage"
	"mediaportal/internal/transport"
	"mediaportal/internal/utils"
	"mediaportal/pkg/logger"
)

// app 一次进程内共享的组件，serve 与各 CLI 命令都从这里装配
type app struct {
	cfg      *config.Config
	store    storage.Storage
	sess     *session.Session
	client   *transport.Client
	auth     *service.AuthService
	media    *service.MediaService
	notifier notify.Notifier
}

type appOptions struct {
	// logOutput 为空时日志写 stdout
	logOutput      io.Writer
	notifier       notify.Notifier
	onUnauthorized func()
}

func bootstrap(configPath string, opts appOptions) (*app, error) {
	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	if opts.logOutput != nil {
		logger.SetOutput(opts.logOutput)
	}

	// 初始化凭证存储并恢复上次的登录状态
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Init(); err != nil {
		return nil, err
	}
	sess := session.New(store)
	if err := sess.Restore(); err != nil {
		logger.Warnf("Failed to restore session: %v", err)
	}

	notifier := opts.notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	client := transport.NewClient(transport.Options{
		BaseURL:        cfg.Portal.BaseURL,
		HTTPClient:     utils.NewHTTPClient(cfg.Portal.Timeout),
		Credentials:    sess,
		Notifier:       notifier,
		OnUnauthorized: opts.onUnauthorized,
	})

	return &app{
		cfg:      cfg,
		store:    store,
		sess:     sess,
		client:   client,
		auth:     service.NewAuthService(client, sess, cfg.Portal),
		media:    service.NewMediaService(client, conversation.New(), preview.NewRegistry(), notifier, cfg.Portal),
		notifier: notifier,
	}, nil
}

// requireSession 需要登录的命令在发出任何请求前检查凭证
func (a *app) requireSession() error {
	if !a.sess.Authenticated() {
		return fmt.Errorf("%w: run `mediaportal login` first", session.ErrNotAuthenticated)
	}
	return nil
}

func (a *app) close() {
	a.media.Close()
	if err := a.store.Close(); err != nil {
		logger.Warnf("Failed to close storage: %v", err)
	}
}
