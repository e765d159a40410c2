package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	// WebSocket 推送通道的握手同样受此限制
	readHeaderTimeout = 10 * time.Second
	maxHeaderBytes    = 1 << 20
)

// Config 单个监听端口的配置
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// IdleTimeout 为 0 时取 ReadTimeout 的两倍
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// =============================================================================
// 🌐 监听端口管理
// =============================================================================

// Manager 在后台运行一个 http.Server，并负责其优雅关闭。
// 服务端口与指标端口各持有一个 Manager，日志以 listener 字段区分。
type Manager struct {
	name            string
	server          *http.Server
	shutdownTimeout time.Duration
	failed          chan error
	logger          *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewManager 创建端口管理器，name 用于日志（如 api、metrics）
func NewManager(name string, handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * cfg.ReadTimeout
	}
	return &Manager{
		name: name,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		failed:          make(chan error, 1),
		logger:          logger.With(zap.String("component", "http_server"), zap.String("listener", name)),
	}
}

// Start 绑定端口并在后台开始服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%s listener is closed", m.name)
	}
	if m.listener != nil {
		return fmt.Errorf("%s listener already started", m.name)
	}

	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.server.Addr, err)
	}
	m.listener = ln
	m.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("listener failed", zap.Error(err))
			m.failed <- err
		}
	}()
	return nil
}

// Failed 在服务异常退出时收到错误
func (m *Manager) Failed() <-chan error {
	return m.failed
}

// Shutdown 停止接收新连接，并在 ShutdownTimeout 内排空进行中的请求。可重复调用。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.shutdownTimeout)
		defer cancel()
	}
	if err := m.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown %s listener: %w", m.name, err)
	}
	m.listener = nil
	m.logger.Info("listener stopped")
	return nil
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.server.Addr
}

// WaitForSignal 阻塞直到收到 SIGINT/SIGTERM、ctx 取消或任一端口异常退出。
// 端口异常时返回其错误，nil 的 Manager 被忽略。
func WaitForSignal(ctx context.Context, logger *zap.Logger, managers ...*Manager) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := make(chan error, len(managers))
	for _, m := range managers {
		if m == nil {
			continue
		}
		go func(m *Manager) {
			select {
			case err := <-m.failed:
				failed <- err
			case <-ctx.Done():
			}
		}(m)
	}

	select {
	case err := <-failed:
		return err
	case <-ctx.Done():
		logger.Info("shutdown requested", zap.NamedError("cause", context.Cause(ctx)))
		return nil
	}
}
