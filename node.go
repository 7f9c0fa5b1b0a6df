package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/dep2p/go-courier/config"
	"github.com/dep2p/go-courier/internal/core/dispatch"
	"github.com/dep2p/go-courier/internal/core/envelope"
	"github.com/dep2p/go-courier/internal/core/peerbook"
	"github.com/dep2p/go-courier/internal/core/session"
	"github.com/dep2p/go-courier/internal/core/transport"
	"github.com/dep2p/go-courier/internal/util/logger"
	"github.com/dep2p/go-courier/pkg/interfaces"
	"github.com/dep2p/go-courier/pkg/types"
)

// ============================================================================
//                              节点状态
// ============================================================================

// NodeState 节点状态
//
// 表示节点在生命周期中的当前阶段。
type NodeState int

const (
	// StateIdle 空闲状态（已创建，未监听）
	StateIdle NodeState = iota

	// StateRunning 运行中（接收循环已启动）
	StateRunning

	// StateClosed 已关闭（不可重新启动）
	StateClosed
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// 生命周期超时配置
const (
	// initializeTimeout 组件启动超时（Fx App Start）
	initializeTimeout = 30 * time.Second

	// shutdownTimeout 组件停止超时（Fx App Stop）
	shutdownTimeout = 30 * time.Second
)

// ============================================================================
//                              节点
// ============================================================================

// Node Courier 节点
//
// Node 是用户与消息基盘交互的主入口。它是一个门面，聚合了
// 编解码、会话关联、处理器分发与传输绑定。
//
// 使用示例：
//
//	// 创建节点（套接字在创建时绑定）
//	node, err := courier.New(
//	    courier.WithHost("127.0.0.1"),
//	    courier.WithUDP(4100),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 注册处理器（必须在 Listen 之前）
//	node.RegisterHandler("chat", "echo", echoHandler, courier.ShapePayloadSender,
//	    courier.WithPayloadPrototype(func() any { return &EchoRequest{} }),
//	)
//
//	// 启动接收循环（非阻塞）
//	if err := node.Listen(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// 请求并等待响应
//	var reply EchoReply
//	err = node.SendAndReceive(ctx, peer, courier.Message{
//	    Topic:   "chat",
//	    Type:    "echo",
//	    Payload: &EchoRequest{Text: "hello"},
//	}, &reply)
type Node struct {
	// 配置和 Fx 应用
	cfg *config.Config
	app *fx.App

	// id 节点实例 id，只用于在日志里区分同进程内的多个节点
	id string

	// 核心组件（由 Fx 注入）
	book       *peerbook.Book
	sessions   *session.Manager
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	transport  *transport.Manager

	// 生命周期状态
	mu         sync.Mutex
	state      NodeState
	listenStop context.CancelFunc
	listenDone chan error

	log *slog.Logger
}

// New 创建节点
//
// 所有启用的绑定在创建时即绑定套接字，Addr 返回的端口创建后
// 立即可用。接收循环由 Listen 启动。
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	cfg, err := o.toConfig()
	if err != nil {
		return nil, err
	}

	node := &Node{
		cfg:   cfg,
		id:    logger.TruncateID(uuid.NewString(), 8),
		state: StateIdle,
	}
	node.log = logger.Logger("node").With("node", node.id)

	node.app, err = buildFxApp(cfg, node)
	if err != nil {
		return nil, fmt.Errorf("build components: %w", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), initializeTimeout)
	defer cancel()
	if err := node.app.Start(startCtx); err != nil {
		return nil, fmt.Errorf("start components: %w", err)
	}

	node.log.Info("节点已创建",
		"host", cfg.Host,
		"port", node.transport.AdvertisedPort(),
		"dial", node.transport.DialBinding(),
	)
	return node, nil
}

// ============================================================================
//                              基本信息
// ============================================================================

// Addr 返回节点的宣告地址
//
// 对端观测到的来源地址会被重映射到这个地址上。
func (n *Node) Addr() types.Address {
	return types.NewAddress(n.cfg.Host, n.transport.AdvertisedPort())
}

// State 返回节点当前状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// PendingSessions 返回未决请求数量
func (n *Node) PendingSessions() int {
	return n.sessions.PendingCount()
}

// KnownPeers 返回地址簿中已观测到的对端数量
func (n *Node) KnownPeers() int {
	return n.book.Len()
}

// ============================================================================
//                              处理器注册
// ============================================================================

// RegisterHandler 注册消息处理器
//
// 同一 (topic, type) 只能注册一次。注册必须在 Listen 之前完成，
// 接收循环启动后注册表冻结。
func (n *Node) RegisterHandler(topic, typ string, fn interfaces.HandlerFunc, shape interfaces.Shape, opts ...interfaces.HandlerOption) error {
	n.mu.Lock()
	closed := n.state == StateClosed
	n.mu.Unlock()
	if closed {
		return ErrNodeClosed
	}

	entry := interfaces.HandlerEntry{
		Topic: topic,
		Type:  typ,
		Fn:    fn,
		Shape: shape,
	}
	for _, opt := range opts {
		opt(&entry)
	}
	return n.registry.Register(entry)
}

// ============================================================================
//                              生命周期
// ============================================================================

// Listen 启动接收循环
//
// 冻结处理器注册表并在后台启动所有启用的绑定，立即返回。
// 循环运行到 ctx 取消或节点关闭为止。
func (n *Node) Listen(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateClosed:
		return ErrNodeClosed
	case StateRunning:
		return ErrAlreadyStarted
	}

	n.registry.Freeze()

	lctx, cancel := context.WithCancel(ctx)
	n.listenStop = cancel
	n.listenDone = make(chan error, 1)

	handler := func(pkg *types.Package, from types.Address) *types.Package {
		return n.dispatcher.Dispatch(lctx, pkg, from)
	}

	go func() {
		err := n.transport.Listen(lctx, handler)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, types.ErrTransportClosed) {
			n.log.Error("接收循环异常退出", "error", err)
		}
		n.listenDone <- err
	}()

	n.state = StateRunning
	n.log.Info("节点开始监听",
		"port", n.transport.AdvertisedPort(),
		"handlers", n.registry.Len(),
	)
	return nil
}

// Close 关闭节点并释放所有资源
//
// 停止接收循环，关闭全部绑定。幂等，不可重新启动。
func (n *Node) Close() error {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return nil
	}
	wasRunning := n.state == StateRunning
	n.state = StateClosed
	stop := n.listenStop
	done := n.listenDone
	n.mu.Unlock()

	if stop != nil {
		stop()
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := n.app.Stop(stopCtx)

	// 等接收循环真正退出再返回
	if wasRunning && done != nil {
		select {
		case <-done:
		case <-stopCtx.Done():
		}
	}

	if err != nil {
		n.log.Warn("组件停止出错", "error", err)
		return fmt.Errorf("stop components: %w", err)
	}
	n.log.Info("节点已关闭")
	return nil
}

// ============================================================================
//                              消息收发
// ============================================================================

// Send 发送单向消息
//
// 使用无会话元数据，对端不会产生响应。送达不可靠：对端
// 不可达只记日志；返回的错误均为本地故障（编码、超限、已关闭）。
func (n *Node) Send(to types.Address, msg types.Message) error {
	if err := n.ensureRunning(); err != nil {
		return err
	}

	sess := n.sessions.CreateInactive()
	pkg, err := envelope.Pack(msg, types.PackageMetadata{
		SessionID: sess.ID(),
		Stage:     sess.Stage(),
	})
	if err != nil {
		return err
	}

	if err := n.transport.Send(to, pkg); err != nil {
		if errors.Is(err, types.ErrSendFailed) {
			n.log.Debug("单向包未送达",
				"to", to.String(),
				"topic", msg.Topic,
				"type", msg.Type,
				"error", err,
			)
			return nil
		}
		return err
	}
	return nil
}

// SendAndReceive 发送请求并等待响应
//
// 为消息分配请求会话并登记关联槽，响应负载解码到 out。
// 超时（配置默认值，ctx 截止更早时以 ctx 为准）返回
// ErrResponseTimeout 并逐出关联槽，晚到的响应被丢弃。
// out 为 nil 时丢弃响应负载。
func (n *Node) SendAndReceive(ctx context.Context, to types.Address, msg types.Message, out any) error {
	if err := n.ensureRunning(); err != nil {
		return err
	}

	sess, err := n.sessions.Create()
	if err != nil {
		return err
	}

	pkg, err := envelope.Pack(msg, types.PackageMetadata{
		SessionID: sess.ID(),
		Stage:     sess.Stage(),
	})
	if err != nil {
		return err
	}

	// 关联槽必须先于发送登记，响应才不会跑在登记前面
	if err := n.sessions.Register(sess); err != nil {
		return err
	}

	if err := n.transport.Send(to, pkg); err != nil {
		n.sessions.Drop(sess.ID())
		return err
	}

	payload, err := n.sessions.Await(ctx, sess.ID(), 0)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if len(payload) == 0 {
		return ErrNoPayload
	}
	return envelope.Unmarshal(payload, out)
}

// ensureRunning 检查节点处于运行状态
func (n *Node) ensureRunning() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.state {
	case StateClosed:
		return ErrNodeClosed
	case StateIdle:
		return ErrNotStarted
	}
	return nil
}

// ============================================================================
//                              收发钩子
// ============================================================================

// SetBeforeSendHook 设置发送前钩子
//
// 钩子在包编码前同步调用，可用于埋点或改写元数据。
// nil 表示清除。
func (n *Node) SetBeforeSendHook(hook SendHook) {
	n.transport.SetBeforeSendHook(hook)
}

// SetAfterReceiveHook 设置接收后钩子
//
// 钩子在包解码并完成地址重映射后、分发前同步调用，
// 同一连接上保持到达顺序。nil 表示清除。
func (n *Node) SetAfterReceiveHook(hook ReceiveHook) {
	n.transport.SetAfterReceiveHook(hook)
}
