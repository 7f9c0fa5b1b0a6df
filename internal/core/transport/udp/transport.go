// Package udp 提供基于 UDP 报文的传输绑定
//
// 一个包对应一个报文。出站走独立的临时端口套接字，入站走
// 监听套接字，对端凭包元数据里的宣告端口完成身份重映射。
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	tec "github.com/jbenet/go-temp-err-catcher"

	"github.com/dep2p/go-courier/internal/core/envelope"
	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/peerbook"
	"github.com/dep2p/go-courier/internal/util/logger"
	"github.com/dep2p/go-courier/pkg/interfaces"
	"github.com/dep2p/go-courier/pkg/types"
)

// Name 绑定名
const Name = "udp"

// Config UDP 绑定配置
type Config struct {
	Host           string
	Port           int
	MaxPackageSize int
}

// Transport UDP 传输绑定
type Transport struct {
	cfg  Config
	conn *net.UDPConn

	sendMu   sync.Mutex
	sendConn *net.UDPConn

	book   *peerbook.Book
	hooks  *interfaces.Hooks
	mts    *metrics.Metrics
	closed atomic.Bool
	log    *slog.Logger
}

// 确保实现接口
var _ interfaces.Binding = (*Transport)(nil)

// New 创建 UDP 绑定并绑定监听套接字
func New(cfg Config, book *peerbook.Book, hooks *interfaces.Hooks, mts *metrics.Metrics) (*Transport, error) {
	laddr := &net.UDPAddr{IP: net.ParseIP(cfg.Host), Port: cfg.Port}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	cfg.Port = conn.LocalAddr().(*net.UDPAddr).Port

	return &Transport{
		cfg:   cfg,
		conn:  conn,
		book:  book,
		hooks: hooks,
		mts:   mts,
		log:   logger.Logger("transport/udp"),
	}, nil
}

// AdvertisedPort 返回监听端口
func (t *Transport) AdvertisedPort() int {
	return t.cfg.Port
}

// Send 将包封入单个报文发出
//
// 发出即成功：对端不可达不会在这里暴露。超限包返回
// *types.PackageTooLargeError。
func (t *Transport) Send(to types.Address, pkg *types.Package) error {
	if t.closed.Load() {
		return types.ErrTransportClosed
	}

	pkg.Metadata.AdvertisedPort = t.cfg.Port
	t.hooks.BeforeSend(pkg, to)

	data, err := envelope.EncodeBounded(pkg, t.cfg.MaxPackageSize)
	if err != nil {
		return err
	}

	raddr, err := net.ResolveUDPAddr("udp", to.String())
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", types.ErrSendFailed, to, err)
	}

	conn, err := t.sendSocket()
	if err != nil {
		return err
	}
	if _, err := conn.WriteToUDP(data, raddr); err != nil {
		return fmt.Errorf("%w: write to %s: %v", types.ErrSendFailed, to, err)
	}

	t.mts.PackageSent(Name)
	return nil
}

// sendSocket 懒建出站套接字
//
// 出站流量使用临时端口，对端观测到的来源端口因此不同于
// 宣告端口，这正是地址簿重映射要解决的差异。
func (t *Transport) sendSocket() (*net.UDPConn, error) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.sendConn != nil {
		return t.sendConn, nil
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open send socket: %v", types.ErrSendFailed, err)
	}
	t.sendConn = conn
	return conn, nil
}

// Listen 接收报文直到 ctx 取消或绑定关闭
//
// 解码失败与超长报文只丢弃当前报文，循环不退出。
func (t *Transport) Listen(ctx context.Context, handler interfaces.PackageHandler) error {
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var catcher tec.TempErrCatcher
	buf := make([]byte, t.cfg.MaxPackageSize+1)

	for {
		n, raddr, err := t.conn.ReadFromUDP(buf)
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
			return fmt.Errorf("udp read: %w", err)
		}

		if n > t.cfg.MaxPackageSize {
			t.log.Debug("丢弃超长报文", "from", raddr.String(), "size", n, "limit", t.cfg.MaxPackageSize)
			t.mts.DecodeError(Name)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		t.deliver(data, types.NewAddress(raddr.IP.String(), raddr.Port), handler)
	}
}

// deliver 解码入站报文并移交处理器
func (t *Transport) deliver(data []byte, observed types.Address, handler interfaces.PackageHandler) {
	pkg, err := envelope.DecodePackage(data)
	if err != nil {
		t.log.Debug("丢弃无法解码的报文", "from", observed, "error", err)
		t.mts.DecodeError(Name)
		return
	}
	t.mts.PackageReceived(Name)

	from := t.book.Observe(observed, pkg.Metadata.AdvertisedPort)
	t.hooks.AfterReceive(pkg, from)

	go func() {
		if reply := handler(pkg, from); reply != nil {
			if err := t.Send(from, reply); err != nil {
				t.log.Warn("响应回送失败", "to", from, "error", err)
			}
		}
	}()
}

// Close 关闭绑定
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	t.sendMu.Lock()
	if t.sendConn != nil {
		_ = t.sendConn.Close()
	}
	t.sendMu.Unlock()
	return err
}
