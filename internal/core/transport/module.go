package transport

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-courier/config"
	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/peerbook"
)

// Config 传输层配置
type Config struct {
	// Host 本地监听主机
	Host string

	// UDP 配置
	EnableUDP         bool
	UDPPort           int
	UDPMaxPackageSize int

	// TCP 配置
	EnableTCP         bool
	TCPPort           int
	TCPMaxPackageSize int

	// WebSocket 配置
	EnableWebSocket    bool
	WSPort             int
	WSMaxPackageSize   int
	WSPath             string
	WSHandshakeTimeout time.Duration

	// QUIC 配置
	EnableQUIC          bool
	QUICPort            int
	QUICMaxPackageSize  int
	QUICMaxIdleTimeout  time.Duration
	QUICKeepAlivePeriod time.Duration

	// 通用配置
	Dial        string
	DialTimeout time.Duration
}

// ConfigFromUnified 从统一配置创建传输配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return NewConfig()
	}
	return Config{
		Host: cfg.Host,

		EnableUDP:         cfg.Transport.EnableUDP,
		UDPPort:           cfg.Transport.UDP.Port,
		UDPMaxPackageSize: cfg.Transport.UDP.MaxPackageSize,

		EnableTCP:         cfg.Transport.EnableTCP,
		TCPPort:           cfg.Transport.TCP.Port,
		TCPMaxPackageSize: cfg.Transport.TCP.MaxPackageSize,

		EnableWebSocket:    cfg.Transport.EnableWebSocket,
		WSPort:             cfg.Transport.WebSocket.Port,
		WSMaxPackageSize:   cfg.Transport.WebSocket.MaxPackageSize,
		WSPath:             cfg.Transport.WebSocket.Path,
		WSHandshakeTimeout: cfg.Transport.WebSocket.HandshakeTimeout.Duration(),

		EnableQUIC:          cfg.Transport.EnableQUIC,
		QUICPort:            cfg.Transport.QUIC.Port,
		QUICMaxPackageSize:  cfg.Transport.QUIC.MaxPackageSize,
		QUICMaxIdleTimeout:  cfg.Transport.QUIC.MaxIdleTimeout.Duration(),
		QUICKeepAlivePeriod: cfg.Transport.QUIC.KeepAlivePeriod.Duration(),

		Dial:        cfg.Transport.Dial,
		DialTimeout: cfg.Transport.DialTimeout.Duration(),
	}
}

// NewConfig 创建默认配置
//
// 默认只启用 UDP：报文上限 1024 字节；流式绑定默认 10240 字节。
func NewConfig() Config {
	return Config{
		Host: "127.0.0.1",

		EnableUDP:         true,
		UDPPort:           0,
		UDPMaxPackageSize: 1024,

		EnableTCP:         false,
		TCPPort:           0,
		TCPMaxPackageSize: 10240,

		EnableWebSocket:    false,
		WSPort:             0,
		WSMaxPackageSize:   10240,
		WSPath:             "/courier",
		WSHandshakeTimeout: 10 * time.Second,

		EnableQUIC:          false,
		QUICPort:            0,
		QUICMaxPackageSize:  10240,
		QUICMaxIdleTimeout:  2 * time.Minute,
		QUICKeepAlivePeriod: 15 * time.Second,

		Dial:        "udp",
		DialTimeout: 10 * time.Second,
	}
}

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Manager *Manager
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(
			ProvideConfig,
			ProvideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideConfig 从统一配置提供传输配置
func ProvideConfig(cfg *config.Config) Config {
	return ConfigFromUnified(cfg)
}

// ProvideManager 提供传输管理器
func ProvideManager(cfg Config, book *peerbook.Book, mts *metrics.Metrics) (Result, error) {
	m, err := NewManager(cfg, book, mts)
	if err != nil {
		return Result{}, err
	}
	return Result{Manager: m}, nil
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// 绑定已在创建时初始化
			return nil
		},
		OnStop: func(_ context.Context) error {
			return m.Close()
		},
	})
}
