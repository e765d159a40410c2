package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BaSui01/warmtransfer/api/handlers"
	"github.com/BaSui01/warmtransfer/config"
	"github.com/BaSui01/warmtransfer/internal/metrics"
	"github.com/BaSui01/warmtransfer/internal/server"
	"github.com/BaSui01/warmtransfer/internal/telemetry"
	"github.com/BaSui01/warmtransfer/registry"
	"github.com/BaSui01/warmtransfer/relay"
	"github.com/BaSui01/warmtransfer/roomprovider"
	"github.com/BaSui01/warmtransfer/roomprovider/livekit"
	"github.com/BaSui01/warmtransfer/summary"
	"github.com/BaSui01/warmtransfer/telephony"
	"github.com/BaSui01/warmtransfer/transcript"
	"github.com/BaSui01/warmtransfer/transfer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装转接服务的所有组件，管理 HTTP 与 Metrics 双端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 组件
	metricsCollector *metrics.Collector
	registry         *registry.Registry
	hub              *relay.Hub
	transcripts      transcript.Store
	summarizer       summary.Summarizer
	speaker          summary.Speaker
	provider         roomprovider.Provider
	webhook          http.Handler
	gateway          telephony.Gateway
	orchestrator     *transfer.Orchestrator

	healthHandler *handlers.HealthHandler

	// 后台任务生命周期
	runCancel         context.CancelFunc
	rateLimiterCancel context.CancelFunc
	closers           []namedCloser

	wg sync.WaitGroup
}

type namedCloser struct {
	name string
	io.Closer
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("warmtransfer", s.logger)
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	// 2. 初始化组件
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. 启动 Metrics 服务器
	if s.cfg.Server.MetricsPort > 0 {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// =============================================================================
// 🔧 组件装配
// =============================================================================

func (s *Server) initComponents() error {
	s.registry = registry.New(s.logger)
	s.hub = relay.NewHub(relay.Options{
		SubscriberBuffer: s.cfg.Relay.SubscriberBuffer,
		HistorySize:      s.cfg.Relay.HistorySize,
		IdleTTL:          s.cfg.Relay.RoomIdleTTL,
		Metrics:          s.metricsCollector,
		Logger:           s.logger,
	})

	if err := s.initTranscripts(); err != nil {
		return err
	}

	s.summarizer = summary.New(s.cfg.Summary, s.logger, s.metricsCollector)
	s.healthHandler.SetComponent("summary", s.cfg.Summary.Provider)
	s.speaker = summary.NewSpeaker(s.cfg.Summary, s.logger)
	if s.speaker == nil {
		s.healthHandler.SetComponent("speech", "disabled")
	} else {
		s.healthHandler.SetComponent("speech", "openai")
	}

	s.initRoomProvider()
	s.initTelephony()

	orch, err := transfer.New(s.cfg.Transfer, transfer.Deps{
		Registry:    s.registry,
		Summarizer:  s.summarizer,
		Provider:    s.provider,
		Relay:       s.hub,
		Transcripts: s.transcripts,
		Metrics:     s.metricsCollector,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("create transfer orchestrator: %w", err)
	}
	s.orchestrator = orch

	// 停滞检测与过期清理
	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := orch.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("transfer sweeper stopped", zap.Error(err))
		}
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(runCtx, s.cfg.Transfer.SweepInterval)
	}()

	s.logger.Info("Components initialized")
	return nil
}

// initTranscripts 配置了 Redis 时使用 Redis 存储，否则使用内存存储
func (s *Server) initTranscripts() error {
	rc := s.cfg.Redis
	if rc.Addr == "" {
		s.transcripts = transcript.NewMemoryStore(rc.MaxUtterances)
		s.healthHandler.SetComponent("transcript", "memory")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := transcript.NewRedisStore(ctx, transcript.RedisConfig{
		Addr:          rc.Addr,
		Password:      rc.Password,
		DB:            rc.DB,
		PoolSize:      rc.PoolSize,
		KeyPrefix:     rc.KeyPrefix,
		TTL:           rc.TranscriptTTL,
		MaxUtterances: rc.MaxUtterances,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("connect transcript store: %w", err)
	}
	s.transcripts = store
	s.closers = append(s.closers, namedCloser{name: "transcript store", Closer: store})
	s.healthHandler.RegisterCheck(store)
	s.healthHandler.SetComponent("transcript", store.Name())
	return nil
}

// initRoomProvider 配置了 LiveKit 时使用 LiveKit，否则使用本地提供方
func (s *Server) initRoomProvider() {
	lk := s.cfg.LiveKit
	if !lk.Enabled() {
		s.provider = roomprovider.NewLocalProvider(roomprovider.TokenSigner{TTL: lk.TokenTTL}, s.logger,
			roomprovider.WithSink(s.registry))
		s.healthHandler.SetComponent("room_provider", "local")
		s.logger.Warn("LiveKit not configured, using local room provider")
		return
	}

	client := livekit.New(livekit.Config{
		URL:       lk.URL,
		APIKey:    lk.APIKey,
		APISecret: lk.APISecret,
		TokenTTL:  lk.TokenTTL,
		Timeout:   lk.Timeout,
	}, s.logger)
	s.provider = client
	s.webhook = livekit.NewWebhookReceiver(client.KeyProvider(), s.registry, s.logger)
	s.healthHandler.SetComponent("room_provider", "livekit")
}

func (s *Server) initTelephony() {
	tw := s.cfg.Twilio
	if !tw.Enabled() {
		s.healthHandler.SetComponent("telephony", "disabled")
		return
	}
	s.gateway = telephony.NewTwilioGateway(telephony.Config{
		AccountSID:  tw.AccountSID,
		AuthToken:   tw.AuthToken,
		FromNumber:  tw.FromNumber,
		BaseURL:     tw.BaseURL,
		CallbackURL: tw.CallbackURL,
		Timeout:     tw.Timeout,
	}, nil, s.logger)
	s.healthHandler.SetComponent("telephony", "twilio")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	events := handlers.NewEventsHandler(s.hub, s.logger,
		handlers.WithWriteTimeout(s.cfg.Relay.WriteTimeout),
		handlers.WithOriginPatterns(originHosts(s.cfg.Server.CORSAllowedOrigins)...),
	)
	handlers.Set{
		Health:    s.healthHandler,
		Transfer:  handlers.NewTransferHandler(s.orchestrator, s.registry, s.transcripts, s.logger),
		Agents:    handlers.NewAgentsHandler(registry.NewAvailability(s.registry, s.orchestrator), s.logger),
		Rooms:     handlers.NewRoomsHandler(s.provider, s.transcripts, s.logger),
		Events:    events,
		Summary:   handlers.NewSummaryHandler(s.summarizer, s.cfg.Transfer.SummaryTimeout, s.logger),
		Speech:    handlers.NewSpeechHandler(s.speaker, s.cfg.Summary.Timeout, s.logger),
		Telephony: handlers.NewTelephonyHandler(s.gateway, s.logger),
		Webhook:   s.webhook,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}.Register(mux)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	// 提供方回调使用各自的签名校验
	skipAuthPrefixes := []string{"/webhooks/", "/api/twilio/twiml/"}

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, skipAuthPrefixes, s.cfg.Server.AllowQueryAPIKey, s.logger),
		MetricsMiddleware(s.metricsCollector),
	)

	s.httpManager = server.NewManager("api", handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// originHosts 将 CORS 来源转换为 WebSocket 握手使用的主机模式
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			hosts = append(hosts, o)
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsManager = server.NewManager("metrics", mux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if err := server.WaitForSignal(context.Background(), s.logger, s.httpManager, s.metricsManager); err != nil {
		s.logger.Error("listener exited unexpectedly", zap.Error(err))
	}
	s.Shutdown()
}

// Shutdown 优雅关闭：先停止接收请求，再排空进行中的转接，最后关闭推送通道与存储
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 排空转接流水线
	if s.orchestrator != nil {
		if err := s.orchestrator.Shutdown(ctx); err != nil {
			s.logger.Error("Transfer orchestrator shutdown error", zap.Error(err))
		}
	}
	if s.runCancel != nil {
		s.runCancel()
	}

	// 3. 断开所有订阅者
	if s.hub != nil {
		s.hub.Close()
	}

	// 4. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Error("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}

	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	// 5. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
