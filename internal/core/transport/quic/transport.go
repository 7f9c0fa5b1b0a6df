// Package quic 提供基于 QUIC 的传输绑定
//
// 一个包对应一条双向流，流内带 4 字节大端长度前缀。单个
// quic.Transport 在同一 UDP 套接字上同时监听和拨号，因此
// 观测端口与宣告端口天然一致。损坏的流只取消自身，连接保留。
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	tec "github.com/jbenet/go-temp-err-catcher"
	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"

	"github.com/dep2p/go-courier/internal/core/envelope"
	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/peerbook"
	"github.com/dep2p/go-courier/internal/util/logger"
	"github.com/dep2p/go-courier/pkg/interfaces"
	"github.com/dep2p/go-courier/pkg/types"
)

// Name 绑定名
const Name = "quic"

// Config QUIC 绑定配置
type Config struct {
	Host            string
	Port            int
	MaxPackageSize  int
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration
	DialTimeout     time.Duration
}

// Transport QUIC 传输绑定
type Transport struct {
	cfg     Config
	udpConn *net.UDPConn
	qt      *quic.Transport
	ln      *quic.Listener
	tlsConf *tls.Config
	qcfg    *quic.Config

	connsMu sync.RWMutex
	conns   map[types.Address]*quic.Conn

	handler      interfaces.PackageHandler
	handlerReady chan struct{}
	listenOnce   sync.Once

	loopCtx    context.Context
	loopCancel context.CancelFunc

	book   *peerbook.Book
	hooks  *interfaces.Hooks
	mts    *metrics.Metrics
	closed atomic.Bool
	log    *slog.Logger
}

// 确保实现接口
var _ interfaces.Binding = (*Transport)(nil)

// New 创建 QUIC 绑定并在共享套接字上开始监听
func New(cfg Config, book *peerbook.Book, hooks *interfaces.Hooks, mts *metrics.Metrics) (*Transport, error) {
	laddr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: cfg.Port}
	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	cfg.Port = udpConn.LocalAddr().(*net.UDPAddr).Port

	tlsConf, err := generateTLSConfig()
	if err != nil {
		_ = udpConn.Close()
		return nil, err
	}
	qcfg := &quic.Config{
		MaxIdleTimeout:  cfg.MaxIdleTimeout,
		KeepAlivePeriod: cfg.KeepAlivePeriod,
	}

	qt := &quic.Transport{Conn: udpConn}
	ln, err := qt.Listen(tlsConf, qcfg)
	if err != nil {
		_ = qt.Close()
		_ = udpConn.Close()
		return nil, fmt.Errorf("listen quic: %w", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:          cfg,
		udpConn:      udpConn,
		qt:           qt,
		ln:           ln,
		tlsConf:      tlsConf,
		qcfg:         qcfg,
		conns:        make(map[types.Address]*quic.Conn),
		handlerReady: make(chan struct{}),
		loopCtx:      loopCtx,
		loopCancel:   loopCancel,
		book:         book,
		hooks:        hooks,
		mts:          mts,
		log:          logger.Logger("transport/quic"),
	}, nil
}

// AdvertisedPort 返回监听端口
func (t *Transport) AdvertisedPort() int {
	return t.cfg.Port
}

// ============================================================================
//                              发送路径
// ============================================================================

// Send 在缓存连接上开新流发送包，必要时懒建连接
func (t *Transport) Send(to types.Address, pkg *types.Package) error {
	if t.closed.Load() {
		return types.ErrTransportClosed
	}

	to = t.book.Resolve(to)

	conn, cached, err := t.getConn(to)
	if err != nil {
		return err
	}
	if err := t.sendOnConn(conn, to, pkg); err != nil {
		if errors.As(err, new(*types.PackageTooLargeError)) {
			return err
		}
		t.dropConn(to, conn)
		if !cached {
			return err
		}
		// 缓存连接已失效，重建后重试一次
		conn, _, err = t.getConn(to)
		if err != nil {
			return err
		}
		if err := t.sendOnConn(conn, to, pkg); err != nil {
			t.dropConn(to, conn)
			return err
		}
	}
	return nil
}

// sendOnConn 在指定连接上开新流写一个包
func (t *Transport) sendOnConn(conn *quic.Conn, to types.Address, pkg *types.Package) error {
	pkg.Metadata.AdvertisedPort = t.cfg.Port
	t.hooks.BeforeSend(pkg, to)

	data, err := envelope.EncodeBounded(pkg, t.cfg.MaxPackageSize)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(t.loopCtx, t.cfg.DialTimeout)
	defer cancel()
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("%w: open stream to %s: %v", types.ErrSendFailed, to, err)
	}
	if err := envelope.WriteFrame(stream, data); err != nil {
		stream.CancelWrite(0)
		return fmt.Errorf("%w: write to %s: %v", types.ErrSendFailed, to, err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("%w: close stream to %s: %v", types.ErrSendFailed, to, err)
	}

	t.mts.PackageSent(Name)
	return nil
}

// getConn 取缓存连接或新建
func (t *Transport) getConn(to types.Address) (*quic.Conn, bool, error) {
	t.connsMu.RLock()
	conn, ok := t.conns[to]
	t.connsMu.RUnlock()
	if ok {
		return conn, true, nil
	}

	raddr, err := net.ResolveUDPAddr("udp", to.String())
	if err != nil {
		return nil, false, fmt.Errorf("%w: resolve %s: %v", types.ErrSendFailed, to, err)
	}

	ctx, cancel := context.WithTimeout(t.loopCtx, t.cfg.DialTimeout)
	defer cancel()
	conn, err = t.qt.Dial(ctx, raddr, t.tlsConf, t.qcfg)
	if err != nil {
		return nil, false, fmt.Errorf("%w: dial %s: %v", types.ErrSendFailed, to, err)
	}

	t.connsMu.Lock()
	if existing, ok := t.conns[to]; ok {
		t.connsMu.Unlock()
		_ = conn.CloseWithError(0, "superseded")
		return existing, true, nil
	}
	t.conns[to] = conn
	t.connsMu.Unlock()

	go t.connLoop(conn, remoteAddress(conn))
	return conn, false, nil
}

// adopt 把入站连接记在对端逻辑地址名下
func (t *Transport) adopt(addr types.Address, conn *quic.Conn) {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	if _, ok := t.conns[addr]; !ok {
		t.conns[addr] = conn
	}
}

// dropConn 关闭连接并清出缓存
func (t *Transport) dropConn(hint types.Address, conn *quic.Conn) {
	_ = conn.CloseWithError(0, "")
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	if cached, ok := t.conns[hint]; ok && cached == conn {
		delete(t.conns, hint)
		return
	}
	for addr, cached := range t.conns {
		if cached == conn {
			delete(t.conns, addr)
			return
		}
	}
}

// remoteAddress 从连接提取对端观测地址
func remoteAddress(conn *quic.Conn) types.Address {
	if raddr, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
		return types.NewAddress(raddr.IP.String(), raddr.Port)
	}
	addr, err := types.ParseAddress(conn.RemoteAddr().String())
	if err != nil {
		return types.Address{}
	}
	return addr
}

// ============================================================================
//                              接收路径
// ============================================================================

// Listen 接受入站连接直到 ctx 取消或绑定关闭
func (t *Transport) Listen(ctx context.Context, handler interfaces.PackageHandler) error {
	t.listenOnce.Do(func() {
		t.handler = handler
		close(t.handlerReady)
	})

	var catcher tec.TempErrCatcher
	for {
		conn, err := t.ln.Accept(ctx)
		if err != nil {
			if t.closed.Load() {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if catcher.IsTemporary(err) {
				continue
			}
			return fmt.Errorf("quic accept: %w", err)
		}
		go t.connLoop(conn, remoteAddress(conn))
	}
}

// connLoop 顺序接收一条连接上的流
//
// 单条流承载一个包，按流接受顺序处理，保证同连接到达顺序。
func (t *Transport) connLoop(conn *quic.Conn, observed types.Address) {
	defer t.dropConn(observed, conn)

	select {
	case <-t.handlerReady:
	case <-t.loopCtx.Done():
		return
	}

	for {
		stream, err := conn.AcceptStream(t.loopCtx)
		if err != nil {
			if !t.closed.Load() && t.loopCtx.Err() == nil {
				t.log.Debug("连接流接收结束", "peer", observed, "error", err)
			}
			return
		}
		t.handleStream(conn, stream, observed)
	}
}

// handleStream 读取一条流上的包并移交处理器
//
// 流损坏只取消这条流，连接上的其他流不受影响。
func (t *Transport) handleStream(conn *quic.Conn, stream *quic.Stream, observed types.Address) {
	data, err := envelope.ReadFrame(stream, t.cfg.MaxPackageSize)
	if err != nil {
		stream.CancelRead(0)
		t.log.Debug("丢弃无法读取的流", "peer", observed, "error", err)
		t.mts.DecodeError(Name)
		return
	}

	pkg, err := envelope.DecodePackage(data)
	if err != nil {
		t.log.Debug("丢弃无法解码的流", "peer", observed, "error", err)
		t.mts.DecodeError(Name)
		return
	}
	t.mts.PackageReceived(Name)

	from := t.book.Observe(observed, pkg.Metadata.AdvertisedPort)
	t.adopt(from, conn)
	t.hooks.AfterReceive(pkg, from)

	go func() {
		if reply := t.handler(pkg, from); reply != nil {
			if err := t.sendOnConn(conn, from, reply); err != nil {
				t.log.Warn("响应回送失败", "to", from, "error", err)
			}
		}
	}()
}

// Close 关闭监听器、全部连接与底层套接字
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.loopCancel()

	_ = t.ln.Close()
	var errs error
	t.connsMu.Lock()
	for _, conn := range t.conns {
		errs = multierr.Append(errs, conn.CloseWithError(0, "shutting down"))
	}
	t.conns = make(map[types.Address]*quic.Conn)
	t.connsMu.Unlock()

	errs = multierr.Append(errs, t.qt.Close())
	errs = multierr.Append(errs, t.udpConn.Close())
	return errs
}
