package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/msghub/internal/account"
	"github.com/nao1215/msghub/internal/apperr"
	"github.com/nao1215/msghub/internal/email"
	"github.com/nao1215/msghub/internal/message"
	messagingdb "github.com/nao1215/msghub/internal/messaging/db"
	"github.com/nao1215/msghub/internal/notification"
	"github.com/nao1215/msghub/internal/realtime"
	"github.com/nao1215/msghub/pkg/config"
	"github.com/nao1215/msghub/pkg/metrics"
	"github.com/nao1215/msghub/pkg/middleware"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 15 * time.Second

// Server はメッセージングサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサービスの設定。
	cfg config.Config
	// db はSQLiteデータベース接続。
	db *sql.DB
	// accounts はアカウントミラーとブロック関係のサービス。
	accounts *account.Service
	// messages はメッセージのサービス。
	messages *message.Service
	// notifications は通知のサービス。
	notifications *notification.Service
	// hub はWebSocket接続のルーム管理。
	hub *realtime.Hub
	// broker はイベントをHubへ届ける。
	broker realtime.Broker
	// limiter は送信系APIのレート制限。
	limiter *middleware.RateLimiter
}

// NewServer は設定からメッセージングサーバーを生成する。
// データベースの初期化、リアルタイム配信とメール送信の準備を行う。
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	sqlDB, err := messagingdb.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(cfg.Realtime.SendQueueSize)
	var broker realtime.Broker = realtime.NewLocalBroker(hub)
	if cfg.Realtime.RedisURL != "" {
		rb, err := realtime.NewRedisBroker(cfg.Realtime.RedisURL, cfg.Realtime.RedisChannel, hub)
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		if err := rb.Ping(ctx); err != nil {
			_ = sqlDB.Close()
			_ = rb.Close()
			return nil, err
		}
		broker = rb
		log.Printf("[Realtime] Redis経由でイベントを配信します: channel=%s", cfg.Realtime.RedisChannel)
	}

	provider, err := email.NewProvider(email.Config{
		Provider:    cfg.Email.Provider,
		BrevoAPIKey: cfg.Email.BrevoAPIKey,
		From:        cfg.Email.From,
		FromName:    cfg.Email.FromName,
	})
	if err != nil {
		_ = sqlDB.Close()
		_ = broker.Close()
		return nil, err
	}
	mailer := email.NewSender(provider, cfg.Email.AppBaseURL)

	return newServer(cfg, sqlDB, hub, broker, mailer), nil
}

// newServer は依存を組み立ててルーティングを設定する。
func newServer(cfg config.Config, sqlDB *sql.DB, hub *realtime.Hub, broker realtime.Broker, mailer message.Mailer) *Server {
	queries := messagingdb.New(sqlDB)
	accounts := account.NewService(queries)
	notifications := notification.NewService(queries, broker)

	var opts []message.Option
	if mailer != nil {
		opts = append(opts, message.WithMailer(mailer, cfg.Email.Timeout))
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(metrics.Middleware())
	router.Use(middleware.CORS(cfg.FrontendURLs))

	s := &Server{
		router:        router,
		cfg:           cfg,
		db:            sqlDB,
		accounts:      accounts,
		messages:      message.NewService(sqlDB, accounts, notifications, broker, opts...),
		notifications: notifications,
		hub:           hub,
		broker:        broker,
		limiter:       middleware.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
	}
	s.setupRoutes()
	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終わるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	brokerCtx, stopBroker := context.WithCancel(ctx)
	defer stopBroker()
	go func() {
		if err := s.broker.Run(brokerCtx); err != nil {
			log.Printf("[Realtime] ブローカーが停止しました: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("メッセージングサービスを起動します: %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("シャットダウンを開始します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	s.messages.Wait()
	return nil
}

// Close はブローカーとデータベース接続を閉じる。
func (s *Server) Close() error {
	return errors.Join(s.broker.Close(), s.db.Close())
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")

	api := v1.Group("")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		messages := api.Group("/messages")
		{
			// ダイレクトメッセージ送信
			messages.POST("", s.limiter.Middleware(), s.handleSend())
			// 管理者による一斉送信
			messages.POST("/broadcast", middleware.AdminOnly(), s.limiter.Middleware(), s.handleBroadcast())
			// 受信箱
			messages.GET("/inbox", s.handleInbox())
			// スレッド一覧
			messages.GET("/conversations", s.handleConversations())
			// 未読メッセージ数
			messages.GET("/unread-count", s.handleMessageUnreadCount())
			// スレッド取得
			messages.GET("/thread/:otherId", s.handleGetThread())
			// スレッド削除
			messages.DELETE("/thread/:otherId", s.handleDeleteThread())
			// 返信
			messages.POST("/:id/reply", s.limiter.Middleware(), s.handleReply())
			// 1件既読
			messages.PUT("/:id/read", s.handleMarkMessageRead())
			// スレッド既読
			messages.PUT("/mark-read-by-sender/:otherId", s.handleMarkThreadRead())
			// 全件既読
			messages.PUT("/mark-all-read", s.handleMarkAllMessagesRead())
		}

		notifications := api.Group("/notifications")
		{
			notifications.GET("", s.handleListNotifications())
			notifications.GET("/unread", s.handleListUnreadNotifications())
			notifications.GET("/unread-count", s.handleNotificationUnreadCount())
			notifications.PUT("/:id/read", s.handleMarkNotificationRead())
			notifications.PUT("/mark-all-read", s.handleMarkAllNotificationsRead())
			notifications.DELETE("/clear-all", s.handleClearNotifications())
			notifications.DELETE("/:id", s.handleDeleteNotification())
		}

		users := api.Group("/users")
		{
			users.POST("/:id/block", s.handleBlock())
			users.POST("/:id/unblock", s.handleUnblock())
			users.GET("/:id/block-status", s.handleBlockStatus())
		}
	}

	// 他サービスからの呼び出し
	internal := v1.Group("/internal")
	internal.Use(middleware.InternalKey(s.cfg.InternalAPIKey))
	{
		internal.PUT("/accounts/:id", s.handleUpsertAccount())
		internal.POST("/notifications", s.handleCreateNotification())
	}

	if s.cfg.DevMode {
		v1.POST("/auth/dev-token", s.handleDevToken())
	}

	s.router.GET("/ws", realtime.NewHandler(s.hub, s.cfg.JWTSecret, s.cfg.FrontendURLs).Handle())
	s.router.GET("/metrics", metrics.Handler())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "messaging"})
	})
}

// writeError はサービス層のエラーをHTTPレスポンスに変換する。
// 分類されていないエラーはログに残し、内容を伏せて500を返す。
func writeError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		log.Printf("内部エラー (%s %s): %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "内部エラーが発生しました"})
		return
	}

	switch e.Kind {
	case apperr.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Message})
	case apperr.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": e.Message})
	case apperr.KindForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": e.Message})
	case apperr.KindBlocked:
		c.JSON(http.StatusForbidden, gin.H{"error": e.Message, "reason": e.Reason})
	default:
		log.Printf("内部エラー (%s %s): %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "内部エラーが発生しました"})
	}
}

// bindJSON はリクエストボディをreqにデコードする。失敗時は400を返してfalse。
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
		return false
	}
	return true
}

// orEmpty はnilスライスを空スライスにする。
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
