// Package tcp 提供基于 TCP 长连接的传输绑定
//
// 连接按对端逻辑地址懒建并缓存复用。每个包带 4 字节大端长度
// 前缀分帧；帧损坏或解码失败只关闭所在连接，监听循环不受影响。
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	tec "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/multierr"

	"github.com/dep2p/go-courier/internal/core/envelope"
	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/peerbook"
	"github.com/dep2p/go-courier/internal/util/logger"
	"github.com/dep2p/go-courier/pkg/interfaces"
	"github.com/dep2p/go-courier/pkg/types"
)

// Name 绑定名
const Name = "tcp"

// Config TCP 绑定配置
type Config struct {
	Host           string
	Port           int
	MaxPackageSize int
	DialTimeout    time.Duration
}

// peerConn 单个对端连接
//
// 写操作由 wmu 串行化，读操作只属于这条连接的读循环。
type peerConn struct {
	conn net.Conn
	wmu  sync.Mutex
}

// Transport TCP 传输绑定
type Transport struct {
	cfg      Config
	listener net.Listener

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

// New 创建 TCP 绑定并绑定监听套接字
func New(cfg Config, book *peerbook.Book, hooks *interfaces.Hooks, mts *metrics.Metrics) (*Transport, error) {
	ln, err := net.Listen("tcp", types.NewAddress(cfg.Host, cfg.Port).String())
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	return &Transport{
		cfg:          cfg,
		listener:     ln,
		conns:        make(map[types.Address]*peerConn),
		handlerReady: make(chan struct{}),
		book:         book,
		hooks:        hooks,
		mts:          mts,
		done:         make(chan struct{}),
		log:          logger.Logger("transport/tcp"),
	}, nil
}

// AdvertisedPort 返回监听端口
func (t *Transport) AdvertisedPort() int {
	return t.cfg.Port
}

// ============================================================================
//                              发送路径
// ============================================================================

// Send 经缓存连接发送包，必要时懒建连接
//
// 缓存连接写失败视为对端已关闭：重建连接再试一次。
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
	if err := t.writeFrame(pc, data); err != nil {
		t.dropConn(to, pc)
		if !cached {
			return fmt.Errorf("%w: write to %s: %v", types.ErrSendFailed, to, err)
		}
		// 缓存连接已失效，重建后重试一次
		pc, _, err = t.getConn(to)
		if err != nil {
			return err
		}
		if err := t.writeFrame(pc, data); err != nil {
			t.dropConn(to, pc)
			return fmt.Errorf("%w: write to %s: %v", types.ErrSendFailed, to, err)
		}
	}

	t.mts.PackageSent(Name)
	return nil
}

// writeFrame 在单条连接上串行写一帧
func (t *Transport) writeFrame(pc *peerConn, data []byte) error {
	pc.wmu.Lock()
	defer pc.wmu.Unlock()
	return envelope.WriteFrame(pc.conn, data)
}

// getConn 取缓存连接或新建
func (t *Transport) getConn(to types.Address) (*peerConn, bool, error) {
	t.connsMu.RLock()
	pc, ok := t.conns[to]
	t.connsMu.RUnlock()
	if ok {
		return pc, true, nil
	}

	conn, err := net.DialTimeout("tcp", to.String(), t.cfg.DialTimeout)
	if err != nil {
		return nil, false, fmt.Errorf("%w: dial %s: %v", types.ErrSendFailed, to, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
	}
	pc = &peerConn{conn: conn}

	t.connsMu.Lock()
	if existing, ok := t.conns[to]; ok {
		// 并发拨号输给了别人，用现成的
		t.connsMu.Unlock()
		_ = conn.Close()
		return existing, true, nil
	}
	t.conns[to] = pc
	t.connsMu.Unlock()

	observed := types.Address{}
	if raddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		observed = types.NewAddress(raddr.IP.String(), raddr.Port)
	}
	go t.readLoop(pc, observed)

	return pc, false, nil
}

// adopt 把入站连接记在对端逻辑地址名下
//
// 已有连接时保持原样，避免两边同时拨号导致缓存抖动。
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

// ============================================================================
//                              接收路径
// ============================================================================

// Listen 接受入站连接直到 ctx 取消或绑定关闭
func (t *Transport) Listen(ctx context.Context, handler interfaces.PackageHandler) error {
	t.listenOnce.Do(func() {
		t.handler = handler
		close(t.handlerReady)
	})

	stop := context.AfterFunc(ctx, func() {
		_ = t.listener.Close()
	})
	defer stop()

	var catcher tec.TempErrCatcher
	for {
		conn, err := t.listener.Accept()
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
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("tcp accept: %w", err)
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
			_ = tcpConn.SetKeepAlive(true)
		}

		observed := types.Address{}
		if raddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			observed = types.NewAddress(raddr.IP.String(), raddr.Port)
		}
		go t.readLoop(&peerConn{conn: conn}, observed)
	}
}

// readLoop 驱动一条连接的读循环
//
// 帧错误和解码错误都终止这条连接，其余连接与监听循环不受影响。
func (t *Transport) readLoop(pc *peerConn, observed types.Address) {
	defer t.dropConn(observed, pc)

	// 处理器随 Listen 就位，之前建立的连接在这里等它
	select {
	case <-t.handlerReady:
	case <-t.done:
		return
	}

	for {
		data, err := envelope.ReadFrame(pc.conn, t.cfg.MaxPackageSize)
		if err != nil {
			if t.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Debug("连接读取失败，关闭连接", "peer", observed, "error", err)
			return
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
	if err := t.writeFrame(pc, data); err != nil {
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

	errs := t.listener.Close()
	t.connsMu.Lock()
	for _, pc := range t.conns {
		errs = multierr.Append(errs, pc.conn.Close())
	}
	t.conns = make(map[types.Address]*peerConn)
	t.connsMu.Unlock()
	return errs
}
