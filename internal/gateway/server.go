package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pong42/platform/internal/config"
	"github.com/pong42/platform/pkg/metrics"
	"github.com/pong42/platform/pkg/middleware"
	"github.com/pong42/platform/pkg/token"
)

const (
	// devTokenPath は開発用トークン発行エンドポイント。DevMode の場合のみ登録する。
	devTokenPath = "/dev/token"
	// devTokenTTL は開発用トークンの有効期間。
	devTokenTTL = 24 * time.Hour
	// readHeaderTimeout はリクエストヘッダーの読み込みタイムアウト。
	readHeaderTimeout = 10 * time.Second
)

// Server はAPI GatewayサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// metricsPort はメトリクス専用のリッスンポート。空の場合は公開しない。
	metricsPort string
	// registry はサービスから上流への対応表。
	registry *Registry
	// forwarder は上流への転送を行う。
	forwarder *Forwarder
	// avatars はアバター画像の中継を行う。
	avatars *AvatarRelay
	// metrics はPrometheusメトリクス。
	metrics *metrics.Collector
	// logger は構造化ロガー。
	logger *zap.Logger
	// verificationSecret は開発用トークンの署名鍵。
	verificationSecret string
	// shutdownTimeout はグレースフルシャットダウンの待ち時間。
	shutdownTimeout time.Duration
}

// PublicPaths は設定から有効な公開パスの一覧を組み立てる。
func PublicPaths(cfg *config.Config) []string {
	paths := append([]string(nil), DefaultPublicPaths...)
	paths = append(paths, cfg.PublicPaths...)
	if cfg.DevMode {
		paths = append(paths, devTokenPath)
	}
	return paths
}

// NewServer は新しいGatewayサーバーを生成する。
// サービス認証情報が空の場合はエラーを返す。
func NewServer(cfg *config.Config, secrets config.Secrets, logger *zap.Logger) (*Server, error) {
	if secrets.ServiceToken == "" {
		return nil, errors.New("サービス認証情報が設定されていません")
	}
	registry, err := NewRegistry(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("ルーティングテーブルの構築に失敗: %w", err)
	}
	authRoute, _ := registry.Route(ServiceAuth)

	collector := metrics.NewCollector()
	trust := NewTrustPropagator(secrets.ServiceToken, logger)
	verifier := NewAuthClient(authRoute.Upstream.String(), cfg.VerifyTimeout, trust)
	gatekeeper := NewGatekeeper(NewAllowList(PublicPaths(cfg)...), verifier, collector, logger)
	forwarder := NewForwarder(cfg.UpstreamTimeout, cfg.MaxResponseBytes, trust)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.FrontendURLs))

	s := &Server{
		router:             router,
		port:               cfg.Port,
		metricsPort:        cfg.MetricsPort,
		registry:           registry,
		forwarder:          forwarder,
		avatars:            NewAvatarRelay(forwarder, cfg.MaxUploadBytes, collector, logger),
		metrics:            collector,
		logger:             logger,
		verificationSecret: secrets.VerificationSecret,
		shutdownTimeout:    cfg.ShutdownTimeout,
	}
	router.Use(s.observe())
	router.Use(gatekeeper.Middleware())
	s.setupRoutes(cfg.DevMode)

	return s, nil
}

// Handler はテストや埋め込み用にHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler はPrometheusのスクレイプ用ハンドラーを返す。
// 公開ルーターには載せず、内部向けのリスナーでのみ提供する。
func (s *Server) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// Run はポートをリッスンしてHTTPサーバーを起動し、ctx がキャンセルされるとグレースフルに停止する。
// metricsPort が設定されている場合はメトリクス用のリスナーも開く。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.port)
	if err != nil {
		return fmt.Errorf("ポート %s のリッスンに失敗: %w", s.port, err)
	}
	var metricsLn net.Listener
	if s.metricsPort != "" {
		metricsLn, err = net.Listen("tcp", ":"+s.metricsPort)
		if err != nil {
			ln.Close()
			return fmt.Errorf("メトリクス用ポート %s のリッスンに失敗: %w", s.metricsPort, err)
		}
	}
	return s.Serve(ctx, ln, metricsLn)
}

// Serve は受け取ったリスナーでHTTPサーバーを起動する。
// metricsLn が nil の場合はメトリクス用のサーバーを起動しない。
// どちらかのサーバーが異常終了した場合は、もう一方も停止する。
func (s *Server) Serve(ctx context.Context, ln, metricsLn net.Listener) error {
	type listener struct {
		srv *http.Server
		ln  net.Listener
	}
	listeners := []listener{{
		srv: &http.Server{Handler: s.router, ReadHeaderTimeout: readHeaderTimeout},
		ln:  ln,
	}}
	fields := []zap.Field{zap.String("addr", ln.Addr().String())}
	if metricsLn != nil {
		listeners = append(listeners, listener{
			srv: &http.Server{Handler: s.MetricsHandler(), ReadHeaderTimeout: readHeaderTimeout},
			ln:  metricsLn,
		})
		fields = append(fields, zap.String("metrics_addr", metricsLn.Addr().String()))
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		eg.Go(func() error {
			if err := l.srv.Serve(l.ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTPサーバーが停止しました: %w", err)
			}
			return nil
		})
	}
	s.logger.Info("Gatewayサービスを起動しました", fields...)

	eg.Go(func() error {
		<-egCtx.Done()
		s.logger.Info("Gatewayサービスを停止します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		var errs []error
		for _, l := range listeners {
			if err := l.srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("グレースフルシャットダウンに失敗: %w", errors.Join(errs...))
		}
		return nil
	})

	return eg.Wait()
}

// setupRoutes はルーティングを設定する。
// /api/<service>/ 以下は1つのハンドラーで受け、アバターの経路はハンドラー内で振り分ける。
func (s *Server) setupRoutes(devMode bool) {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})

	if devMode {
		s.router.POST(devTokenPath, s.handleDevToken())
	}

	s.router.Any("/api/:service/*rest", s.handleAPI())

	s.router.NoRoute(func(c *gin.Context) {
		abortWith(c, errNotFound)
	})
}

// handleAPI はサービスを解決して上流に転送するハンドラーを返す。
func (s *Server) handleAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, remainder, err := s.registry.Resolve(c.Request.URL.EscapedPath())
		if err != nil {
			abortWith(c, errServiceNotFound)
			return
		}
		middleware.SetService(c, route.Service.String())

		switch {
		case isAvatarUpload(c.Request.Method, remainder):
			s.avatars.Upload(c, route, remainder)
		case isAvatarRetrieval(c.Request.Method, remainder):
			s.avatars.Retrieve(c, route, remainder)
		default:
			s.proxy(c, route, remainder)
		}
	}
}

// proxy はリクエストを上流にそのまま転送し、応答を返す。
func (s *Server) proxy(c *gin.Context, route Route, remainder string) {
	preq := newProxiedRequest(c, route.Target(remainder, c.Request.URL.RawQuery))
	resp, err := s.forwarder.Forward(c.Request.Context(), preq, IdentityFrom(c))
	if err != nil {
		s.metrics.ObserveUpstreamError(route.Service.String())
		s.logger.Warn("上流サービスへの転送に失敗",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("service", route.Service.String()),
			zap.String("path", remainder),
			zap.Error(err),
		)
		abortWith(c, upstreamError(err))
		return
	}
	writeProxiedResponse(c, resp)
}

// observe はリクエストごとのメトリクスを記録するミドルウェアを返す。
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		service := middleware.GetService(c)
		if service == "" {
			service = "gateway"
		}
		s.metrics.ObserveRequest(service, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// devTokenRequest は開発用トークン発行のリクエストボディ。
type devTokenRequest struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// subject を省略した場合はランダムなIDを割り当てる。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				abortWith(c, errInvalidRequest)
				return
			}
		}
		if req.Subject == "" {
			req.Subject = uuid.New().String()
		}
		if req.Username == "" {
			req.Username = "dev-user"
		}

		tok, err := token.Issue(s.verificationSecret, req.Subject, req.Username, devTokenTTL)
		if err != nil {
			s.logger.Error("開発用トークンの生成に失敗", zap.Error(err))
			middleware.AbortWithError(c, http.StatusInternalServerError, middleware.CodeInternalError, "トークン生成に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"token":   tok,
			"subject": req.Subject,
		})
	}
}
