package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/peerbook"
	"github.com/dep2p/go-courier/internal/core/transport/quic"
	"github.com/dep2p/go-courier/internal/core/transport/tcp"
	"github.com/dep2p/go-courier/internal/core/transport/udp"
	"github.com/dep2p/go-courier/internal/core/transport/ws"
	"github.com/dep2p/go-courier/internal/util/logger"
	"github.com/dep2p/go-courier/pkg/interfaces"
	"github.com/dep2p/go-courier/pkg/types"
)

// Manager 传输管理器
//
// 持有全部启用的绑定，统一监听与关闭。出站包走配置选定的
// 拨号绑定，入站包各绑定自行接收并移交处理器。
type Manager struct {
	bindings map[string]interfaces.Binding
	dial     interfaces.Binding
	dialName string
	hooks    *interfaces.Hooks
	closed   atomic.Bool
	log      *slog.Logger
}

// NewManager 创建传输管理器
//
// 绑定在创建时即绑定监听套接字，端口 0 会立刻解析为实际端口，
// 因此构造完成后宣告端口就是确定的。
func NewManager(cfg Config, book *peerbook.Book, mts *metrics.Metrics) (*Manager, error) {
	m := &Manager{
		bindings: make(map[string]interfaces.Binding),
		hooks:    &interfaces.Hooks{},
		log:      logger.Logger("transport"),
	}

	if cfg.EnableUDP {
		b, err := udp.New(udp.Config{
			Host:           cfg.Host,
			Port:           cfg.UDPPort,
			MaxPackageSize: cfg.UDPMaxPackageSize,
		}, book, m.hooks, mts)
		if err != nil {
			m.close()
			return nil, fmt.Errorf("transport: udp binding: %w", err)
		}
		m.bindings[udp.Name] = b
	}

	if cfg.EnableTCP {
		b, err := tcp.New(tcp.Config{
			Host:           cfg.Host,
			Port:           cfg.TCPPort,
			MaxPackageSize: cfg.TCPMaxPackageSize,
			DialTimeout:    cfg.DialTimeout,
		}, book, m.hooks, mts)
		if err != nil {
			m.close()
			return nil, fmt.Errorf("transport: tcp binding: %w", err)
		}
		m.bindings[tcp.Name] = b
	}

	if cfg.EnableWebSocket {
		b, err := ws.New(ws.Config{
			Host:             cfg.Host,
			Port:             cfg.WSPort,
			MaxPackageSize:   cfg.WSMaxPackageSize,
			Path:             cfg.WSPath,
			HandshakeTimeout: cfg.WSHandshakeTimeout,
			DialTimeout:      cfg.DialTimeout,
		}, book, m.hooks, mts)
		if err != nil {
			m.close()
			return nil, fmt.Errorf("transport: websocket binding: %w", err)
		}
		m.bindings[ws.Name] = b
	}

	if cfg.EnableQUIC {
		b, err := quic.New(quic.Config{
			Host:            cfg.Host,
			Port:            cfg.QUICPort,
			MaxPackageSize:  cfg.QUICMaxPackageSize,
			MaxIdleTimeout:  cfg.QUICMaxIdleTimeout,
			KeepAlivePeriod: cfg.QUICKeepAlivePeriod,
			DialTimeout:     cfg.DialTimeout,
		}, book, m.hooks, mts)
		if err != nil {
			m.close()
			return nil, fmt.Errorf("transport: quic binding: %w", err)
		}
		m.bindings[quic.Name] = b
	}

	dial, ok := m.bindings[cfg.Dial]
	if !ok {
		m.close()
		return nil, fmt.Errorf("%w: dial binding %q not enabled", types.ErrNoBinding, cfg.Dial)
	}
	m.dial = dial
	m.dialName = cfg.Dial

	m.log.Info("传输管理器已创建", "bindings", len(m.bindings), "dial", cfg.Dial, "advertisedPort", dial.AdvertisedPort())
	return m, nil
}

// Listen 启动全部绑定的接收循环并阻塞
//
// 任一绑定的循环返回错误时，其余绑定的 ctx 被取消。
// ctx 取消或 Close 使本调用返回。
func (m *Manager) Listen(ctx context.Context, handler interfaces.PackageHandler) error {
	if m.closed.Load() {
		return types.ErrTransportClosed
	}

	g, ctx := errgroup.WithContext(ctx)
	for name, b := range m.bindings {
		g.Go(func() error {
			if err := b.Listen(ctx, handler); err != nil {
				return fmt.Errorf("%s listen: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Send 经拨号绑定发送包
func (m *Manager) Send(to types.Address, pkg *types.Package) error {
	if m.closed.Load() {
		return types.ErrTransportClosed
	}
	return m.dial.Send(to, pkg)
}

// AdvertisedPort 返回拨号绑定的监听端口
func (m *Manager) AdvertisedPort() int {
	return m.dial.AdvertisedPort()
}

// DialBinding 返回拨号绑定名
func (m *Manager) DialBinding() string {
	return m.dialName
}

// Binding 按名字查找绑定
func (m *Manager) Binding(name string) (interfaces.Binding, bool) {
	b, ok := m.bindings[name]
	return b, ok
}

// SetBeforeSendHook 设置发送前钩子，nil 表示清除
func (m *Manager) SetBeforeSendHook(hook interfaces.SendHook) {
	m.hooks.SetBeforeSend(hook)
}

// SetAfterReceiveHook 设置接收后钩子，nil 表示清除
func (m *Manager) SetAfterReceiveHook(hook interfaces.ReceiveHook) {
	m.hooks.SetAfterReceive(hook)
}

// Close 关闭全部绑定
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.close()
}

// close 逐个关闭绑定并聚合错误
func (m *Manager) close() error {
	var errs error
	for name, b := range m.bindings {
		if err := b.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errs
}
