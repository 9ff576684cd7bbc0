package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mediaportal/internal/config"
	"mediaportal/internal/handler"
	"mediaportal/internal/notify"
	"mediaportal/internal/preview"
	"mediaportal/internal/session"
	"mediaportal/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local screen server",
		Long:  "Serves the conversation, previews and notifications over HTTP and server-sent events for a browser front end.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "监听端口，覆盖配置文件")
	return cmd
}

func runServe(configPath string, port int) error {
	broadcaster := notify.NewBroadcaster()
	a, err := bootstrap(configPath, appOptions{
		notifier: notify.Multi{notify.LogNotifier{}, broadcaster},
		// 凭证失效时让浏览器跳回登录页
		onUnauthorized: func() { broadcaster.Redirect(handler.LoginRoute) },
	})
	if err != nil {
		return err
	}
	defer a.close()

	if port != 0 {
		a.cfg.Server.Port = port
	}

	// 初始化处理器
	authHandler := handler.NewAuthHandler(a.auth)
	mediaHandler := handler.NewMediaHandler(a.media, broadcaster, a.cfg.Upload.MaxBytes, a.cfg.Server.Heartbeat)

	// 创建路由
	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(a.cfg, a.sess, authHandler, mediaHandler)

	// 请求 ctx 派生自 baseCtx，关闭时取消它以结束 SSE 长连接
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	// 创建HTTP服务器
	server := &http.Server{
		BaseContext:    func(net.Listener) context.Context { return baseCtx },
		Addr:           fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    a.cfg.Server.ReadTimeout,
		WriteTimeout:   a.cfg.Server.WriteTimeout,
		MaxHeaderBytes: a.cfg.Server.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("服务器启动在端口 %d, 门户 %s", a.cfg.Server.Port, a.cfg.Portal.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("服务器启动失败: %w", err)
	case <-quit:
	}

	logger.Info("服务器正在关闭...")
	// 先断开进度通道与浏览器事件流，再等待其余请求完成
	a.media.Close()
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
		server.Close()
	}
	logger.Info("服务器已关闭")
	return nil
}

func setupRouter(cfg *config.Config, sess *session.Session, authHandler *handler.AuthHandler, mediaHandler *handler.MediaHandler) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"authenticated": sess.Authenticated(),
			"timestamp":     time.Now().Unix(),
		})
	})

	// 本地预览不需要登录，地址只在本进程内有效
	router.GET(preview.Prefix+":id", mediaHandler.Preview)

	// 视频结果与门户同路径代理，消息里的地址可以直接请求
	router.GET(routePattern(cfg.Portal.ResultPath), handler.RequireSession(sess), mediaHandler.Result)

	// API路由
	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/register", authHandler.Register)
			auth.POST("/send-code", authHandler.SendCode)
			auth.POST("/logout", authHandler.Logout)
			auth.GET("/me", authHandler.Me)
		}

		guarded := api.Group("", handler.RequireSession(sess))
		{
			guarded.POST("/media", mediaHandler.Submit)
			guarded.GET("/messages", mediaHandler.GetMessages)
			guarded.DELETE("/messages", mediaHandler.ClearMessages)
			guarded.GET("/events", mediaHandler.Events)
		}
	}

	return router
}

// routePattern 把门户路径模板转换为 gin 路由，{task_id} 变为参数
func routePattern(path string) string {
	if strings.Contains(path, "{task_id}") {
		return strings.Replace(path, "{task_id}", ":task_id", 1)
	}
	return strings.TrimRight(path, "/") + "/:task_id"
}
