// Package ws 提供基于 WebSocket 的传输绑定
//
// 一个包对应一条二进制消息，消息边界由 WebSocket 帧自带，
// 不再附加长度前缀。适合包流量需要穿越 HTTP 基础设施的部署。
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/dep2p/go-courier/internal/core/envelope"
	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/peerbook"
	"github.com/dep2p/go-courier/internal/util/logger"
	"github.com/dep2p/go-courier/pkg/interfaces"
	"github.com/dep2p/go-courier/pkg/types"
)

// Name 绑定名
const Name = "ws"

// Config WebSocket 绑定配置
type Config struct {
	Host             string
	Port             int
	MaxPackageSize   int
	Path             string
	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
}

// peerConn 单个对端连接
//
// gorilla 连接同一时刻只允许一个写者，写操作由 wmu 串行化。
type peerConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Transport WebSocket 传输绑定
type Transport struct {
	cfg      Config
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	connsMu sync.RWMutex
	conns   map[types.Address]*peerConn

	handler      interfaces.PackageHandler
	handlerReady chan struct{}
	listenOnce   sync.Once

	book   *peerbook.Book
	hooks  *interfaces.Hooks
	mts    *metrics.Metrics
	closed atomic.Bool
	done   chan struct{}
	log    *slog.Logger
}

// 确保实现接口
var _ interfaces.Binding = (*Transport)(nil)

// New 创建 WebSocket 绑定并绑定监听套接字
func New(cfg Config, book *peerbook.Book, hooks *interfaces.Hooks, mts *metrics.Metrics) (*Transport, error) {
	ln, err := net.Listen("tcp", types.NewAddress(cfg.Host, cfg.Port).String())
	if err != nil {
		return nil, fmt.Errorf("listen ws %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	t := &Transport{
		cfg:      cfg,
		listener: ln,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		conns:        make(map[types.Address]*peerConn),
		handlerReady: make(chan struct{}),
		book:         book,
		hooks:        hooks,
		mts:          mts,
		done:         make(chan struct{}),
		log:          logger.Logger("transport/ws"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, t.upgrade)
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: cfg.HandshakeTimeout,
	}
	return t, nil
}

// AdvertisedPort 返回监听端口
func (t *Transport) AdvertisedPort() int {
	return t.cfg.Port
}

// ============================================================================
//                              发送路径
// ============================================================================

// Send 经缓存连接发送包，必要时懒建连接
func (t *Transport) Send(to types.Address, pkg *types.Package) error {
	if t.closed.Load() {
		return types.ErrTransportClosed
	}

	to = t.book.Resolve(to)
	pkg.Metadata.AdvertisedPort = t.cfg.Port
	t.hooks.BeforeSend(pkg, to)

	data, err := envelope.EncodeBounded(pkg, t.cfg.MaxPackageSize)
	if err != nil {
		return err
	}

	pc, cached, err := t.getConn(to)
	if err != nil {
		return err
	}
	if err := t.writeMessage(pc, data); err != nil {
		t.dropConn(to, pc)
		if !cached {
			return fmt.Errorf("%w: write to %s: %v", types.ErrSendFailed, to, err)
		}
		pc, _, err = t.getConn(to)
		if err != nil {
			return err
		}
		if err := t.writeMessage(pc, data); err != nil {
			t.dropConn(to, pc)
			return fmt.Errorf("%w: write to %s: %v", types.ErrSendFailed, to, err)
		}
	}

	t.mts.PackageSent(Name)
	return nil
}

// writeMessage 在单条连接上串行写一条二进制消息
func (t *Transport) writeMessage(pc *peerConn, data []byte) error {
	pc.wmu.Lock()
	defer pc.wmu.Unlock()
	return pc.conn.WriteMessage(websocket.BinaryMessage, data)
}

// getConn 取缓存连接或新建
func (t *Transport) getConn(to types.Address) (*peerConn, bool, error) {
	t.connsMu.RLock()
	pc, ok := t.conns[to]
	t.connsMu.RUnlock()
	if ok {
		return pc, true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.DialTimeout)
	defer cancel()
	url := fmt.Sprintf("ws://%s%s", to.String(), t.cfg.Path)
	conn, resp, err := t.dialer.DialContext(ctx, url, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: dial %s: %v", types.ErrSendFailed, url, err)
	}
	conn.SetReadLimit(int64(t.cfg.MaxPackageSize))
	pc = &peerConn{conn: conn}

	t.connsMu.Lock()
	if existing, ok := t.conns[to]; ok {
		t.connsMu.Unlock()
		_ = conn.Close()
		return existing, true, nil
	}
	t.conns[to] = pc
	t.connsMu.Unlock()

	go t.readLoop(pc, remoteAddress(conn))
	return pc, false, nil
}

// adopt 把入站连接记在对端逻辑地址名下
func (t *Transport) adopt(addr types.Address, pc *peerConn) {
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	if _, ok := t.conns[addr]; !ok {
		t.conns[addr] = pc
	}
}

// dropConn 关闭连接并清出缓存
func (t *Transport) dropConn(hint types.Address, pc *peerConn) {
	_ = pc.conn.Close()
	t.connsMu.Lock()
	defer t.connsMu.Unlock()
	if cached, ok := t.conns[hint]; ok && cached == pc {
		delete(t.conns, hint)
		return
	}
	for addr, cached := range t.conns {
		if cached == pc {
			delete(t.conns, addr)
			return
		}
	}
}

// remoteAddress 从连接提取对端观测地址
func remoteAddress(conn *websocket.Conn) types.Address {
	if raddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
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

// Listen 服务入站握手直到 ctx 取消或绑定关闭
func (t *Transport) Listen(ctx context.Context, handler interfaces.PackageHandler) error {
	t.listenOnce.Do(func() {
		t.handler = handler
		close(t.handlerReady)
	})

	stop := context.AfterFunc(ctx, func() {
		_ = t.server.Close()
	})
	defer stop()

	err := t.server.Serve(t.listener)
	if t.closed.Load() || errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	return fmt.Errorf("ws serve: %w", err)
}

// upgrade 将 HTTP 请求升级为 WebSocket 连接
func (t *Transport) upgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Debug("握手升级失败", "from", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(int64(t.cfg.MaxPackageSize))
	go t.readLoop(&peerConn{conn: conn}, remoteAddress(conn))
}

// readLoop 驱动一条连接的读循环
//
// 解码失败或消息超限都终止这条连接。
func (t *Transport) readLoop(pc *peerConn, observed types.Address) {
	defer t.dropConn(observed, pc)

	select {
	case <-t.handlerReady:
	case <-t.done:
		return
	}

	for {
		mt, data, err := pc.conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				t.log.Debug("连接读取失败，关闭连接", "peer", observed, "error", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			t.log.Debug("忽略非二进制消息", "peer", observed, "messageType", mt)
			continue
		}

		pkg, err := envelope.DecodePackage(data)
		if err != nil {
			t.log.Debug("包无法解码，关闭连接", "peer", observed, "error", err)
			t.mts.DecodeError(Name)
			return
		}
		t.mts.PackageReceived(Name)

		from := t.book.Observe(observed, pkg.Metadata.AdvertisedPort)
		t.adopt(from, pc)
		t.hooks.AfterReceive(pkg, from)

		go func() {
			if reply := t.handler(pkg, from); reply != nil {
				if err := t.reply(pc, from, reply); err != nil {
					t.log.Warn("响应回送失败", "to", from, "error", err)
				}
			}
		}()
	}
}

// reply 沿收到请求的那条连接回送响应
func (t *Transport) reply(pc *peerConn, to types.Address, pkg *types.Package) error {
	if t.closed.Load() {
		return types.ErrTransportClosed
	}

	pkg.Metadata.AdvertisedPort = t.cfg.Port
	t.hooks.BeforeSend(pkg, to)

	data, err := envelope.EncodeBounded(pkg, t.cfg.MaxPackageSize)
	if err != nil {
		return err
	}
	if err := t.writeMessage(pc, data); err != nil {
		return fmt.Errorf("%w: write to %s: %v", types.ErrSendFailed, to, err)
	}
	t.mts.PackageSent(Name)
	return nil
}

// Close 关闭监听器与全部连接
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)

	// Serve 尚未接管监听器时 server.Close 不会碰它，单独关一次
	errs := t.server.Close()
	if err := t.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = multierr.Append(errs, err)
	}
	t.connsMu.Lock()
	for _, pc := range t.conns {
		errs = multierr.Append(errs, pc.conn.Close())
	}
	t.conns = make(map[types.Address]*peerConn)
	t.connsMu.Unlock()
	return errs
}
