package courier

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-courier/config"
)

// ============================================================================
//                              测试辅助
// ============================================================================

// newTestNode 创建绑定到回环地址的节点
func newTestNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithHost("127.0.0.1")}, opts...)
	node, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

// startTestNode 创建节点并启动接收循环
func startTestNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	node := newTestNode(t, opts...)
	require.NoError(t, node.Listen(context.Background()))
	return node
}

// randomLetters 构造压缩救不回来的负载
func randomLetters(n int) string {
	rng := rand.New(rand.NewSource(1))
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte('a' + rng.Intn(26))
	}
	return string(buf)
}

type addRequest struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addReply struct {
	Sum int `json:"sum"`
}

type notice struct {
	Text string `json:"text"`
}

// registerAdd 注册求和处理器
//
// senders 非 nil 时把观测到的发送方地址送入其中。处理器运行在
// 接收协程上，失败以错误返回而不直接断言。
func registerAdd(t *testing.T, node *Node, senders chan<- Address) {
	t.Helper()
	err := node.RegisterHandler("calc", "add",
		func(ctx context.Context, args ...any) (any, error) {
			req, ok := args[0].(*addRequest)
			if !ok {
				return nil, errors.New("unexpected payload type")
			}
			if senders != nil {
				senders <- args[1].(Address)
			}
			return &addReply{Sum: req.A + req.B}, nil
		},
		ShapePayloadSender,
		WithPayloadPrototype(func() any { return &addRequest{} }),
	)
	require.NoError(t, err)
}

// ============================================================================
//                              收发场景
// ============================================================================

// TestNode_RequestResponse 测试两个节点间的请求响应往返
func TestNode_RequestResponse(t *testing.T) {
	a := startTestNode(t, WithUDP(0))
	b := newTestNode(t, WithUDP(0))

	senders := make(chan Address, 2)
	registerAdd(t, b, senders)
	require.NoError(t, b.Listen(context.Background()))

	var reply addReply
	err := a.SendAndReceive(context.Background(), b.Addr(),
		Message{Topic: "calc", Type: "add", Payload: &addRequest{A: 3, B: 4}}, &reply)
	require.NoError(t, err)
	assert.Equal(t, 7, reply.Sum)

	// 响应方观测到的来源被重映射为请求方的宣告地址
	select {
	case from := <-senders:
		assert.Equal(t, a.Addr(), from)
	case <-time.After(3 * time.Second):
		t.Fatal("handler never observed the sender")
	}

	// out 为 nil 时丢弃响应负载
	err = a.SendAndReceive(context.Background(), b.Addr(),
		Message{Topic: "calc", Type: "add", Payload: &addRequest{A: 1, B: 2}}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, a.PendingSessions())
	assert.Equal(t, 0, b.PendingSessions())
	t.Log("✅ 请求响应往返测试通过")
}

// TestNode_BindingRoundTrip 测试各传输绑定上的完整往返
func TestNode_BindingRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		opts []Option
	}{
		{"tcp", []Option{WithTCP(0)}},
		{"websocket", []Option{WithWebSocket(0, "/courier")}},
		{"quic", []Option{WithQUIC(0)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := startTestNode(t, tc.opts...)
			b := newTestNode(t, tc.opts...)
			registerAdd(t, b, nil)
			require.NoError(t, b.Listen(context.Background()))

			var reply addReply
			err := a.SendAndReceive(context.Background(), b.Addr(),
				Message{Topic: "calc", Type: "add", Payload: &addRequest{A: 20, B: 22}}, &reply)
			require.NoError(t, err)
			assert.Equal(t, 42, reply.Sum)
		})
	}
	t.Log("✅ 各绑定往返测试通过")
}

// TestNode_FireAndForget 测试单向消息的送达与来源重映射
func TestNode_FireAndForget(t *testing.T) {
	a := startTestNode(t, WithUDP(0))
	b := newTestNode(t, WithUDP(0))

	type delivery struct {
		text string
		from Address
	}
	inbound := make(chan delivery, 1)
	err := b.RegisterHandler("chat", "notify",
		func(ctx context.Context, args ...any) (any, error) {
			msg, ok := args[0].(*notice)
			if !ok {
				return nil, errors.New("unexpected payload type")
			}
			inbound <- delivery{text: msg.Text, from: args[1].(Address)}
			return nil, nil
		},
		ShapePayloadSender,
		WithPayloadPrototype(func() any { return &notice{} }),
	)
	require.NoError(t, err)
	require.NoError(t, b.Listen(context.Background()))

	err = a.Send(b.Addr(), Message{Topic: "chat", Type: "notify", Payload: &notice{Text: "door open"}})
	require.NoError(t, err)

	select {
	case got := <-inbound:
		assert.Equal(t, "door open", got.text)
		assert.Equal(t, a.Addr(), got.from)
	case <-time.After(3 * time.Second):
		t.Fatal("notification not received")
	}

	// 收到包后地址簿记下了发送方
	assert.Equal(t, 1, b.KnownPeers())
	t.Log("✅ 单向消息测试通过")
}

// TestNode_SendUnreachable 测试对端不可达时单向发送不报错
func TestNode_SendUnreachable(t *testing.T) {
	a := startTestNode(t, WithTCP(0))

	dead := newTestNode(t, WithTCP(0))
	deadAddr := dead.Addr()
	require.NoError(t, dead.Close())

	err := a.Send(deadAddr, Message{Topic: "chat", Type: "notify", Payload: &notice{Text: "anyone?"}})
	assert.NoError(t, err)
	t.Log("✅ 不可达单向发送测试通过")
}

// TestNode_ResponseTimeout 测试对端不响应时请求超时
func TestNode_ResponseTimeout(t *testing.T) {
	a := startTestNode(t, WithUDP(0), WithResponseTimeout(300*time.Millisecond))
	b := startTestNode(t, WithUDP(0))

	start := time.Now()
	err := a.SendAndReceive(context.Background(), b.Addr(),
		Message{Topic: "void", Type: "ping", Payload: "x"}, nil)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrResponseTimeout)
	assert.GreaterOrEqual(t, elapsed, 280*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	// 超时后关联槽被逐出
	assert.Equal(t, 0, a.PendingSessions())
	t.Log("✅ 响应超时测试通过")
}

// TestNode_ContextDeadline 测试 ctx 截止早于配置超时时以 ctx 为准
func TestNode_ContextDeadline(t *testing.T) {
	a := startTestNode(t, WithUDP(0))
	b := startTestNode(t, WithUDP(0))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := a.SendAndReceive(ctx, b.Addr(),
		Message{Topic: "void", Type: "ping", Payload: "x"}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, a.PendingSessions())
	t.Log("✅ ctx 截止测试通过")
}

// ============================================================================
//                              注册与生命周期
// ============================================================================

// TestNode_RegisterAfterListen 测试监听后注册被拒绝
func TestNode_RegisterAfterListen(t *testing.T) {
	node := startTestNode(t, WithUDP(0))

	err := node.RegisterHandler("chat", "late",
		func(ctx context.Context, args ...any) (any, error) { return nil, nil },
		ShapeNone,
	)
	assert.ErrorIs(t, err, ErrRegistryFrozen)
	t.Log("✅ 冻结后注册测试通过")
}

// TestNode_HandlerRegistration 测试注册参数校验
func TestNode_HandlerRegistration(t *testing.T) {
	node := newTestNode(t, WithUDP(0))
	noop := func(ctx context.Context, args ...any) (any, error) { return nil, nil }

	t.Run("Duplicate", func(t *testing.T) {
		require.NoError(t, node.RegisterHandler("chat", "echo", noop, ShapeNone))
		err := node.RegisterHandler("chat", "echo", noop, ShapeNone)
		assert.ErrorIs(t, err, ErrDuplicateHandler)
	})

	t.Run("PayloadWithoutPrototype", func(t *testing.T) {
		err := node.RegisterHandler("chat", "typed", noop, ShapePayload)
		assert.ErrorIs(t, err, ErrInvalidHandler)
	})

	t.Run("NilFunc", func(t *testing.T) {
		err := node.RegisterHandler("chat", "ghost", nil, ShapeNone)
		assert.ErrorIs(t, err, ErrInvalidHandler)
	})
	t.Log("✅ 注册校验测试通过")
}

// TestNode_Lifecycle 测试节点状态机与各状态下的操作拒绝
func TestNode_Lifecycle(t *testing.T) {
	node := newTestNode(t, WithUDP(0))
	peer := NewAddress("127.0.0.1", 1)

	// 创建后端口立即可用
	assert.Equal(t, StateIdle, node.State())
	assert.NotZero(t, node.Addr().Port)

	// 未监听时拒绝收发
	err := node.Send(peer, Message{Topic: "chat", Type: "notify"})
	assert.ErrorIs(t, err, ErrNotStarted)
	err = node.SendAndReceive(context.Background(), peer, Message{Topic: "chat", Type: "ping"}, nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	// 启动一次，重复启动被拒绝
	require.NoError(t, node.Listen(context.Background()))
	assert.Equal(t, StateRunning, node.State())
	assert.ErrorIs(t, node.Listen(context.Background()), ErrAlreadyStarted)

	// 关闭幂等
	require.NoError(t, node.Close())
	assert.Equal(t, StateClosed, node.State())
	require.NoError(t, node.Close())

	// 关闭后一切操作被拒绝
	assert.ErrorIs(t, node.Send(peer, Message{Topic: "chat", Type: "notify"}), ErrNodeClosed)
	assert.ErrorIs(t, node.Listen(context.Background()), ErrNodeClosed)
	err = node.RegisterHandler("chat", "late",
		func(ctx context.Context, args ...any) (any, error) { return nil, nil }, ShapeNone)
	assert.ErrorIs(t, err, ErrNodeClosed)
	t.Log("✅ 生命周期测试通过")
}

// ============================================================================
//                              大小限制与钩子
// ============================================================================

// TestNode_OversizedMessage 测试超限消息在编码阶段被拒绝
func TestNode_OversizedMessage(t *testing.T) {
	a := startTestNode(t, WithUDP(0))
	b := startTestNode(t, WithUDP(0))

	blob := Message{Topic: "bulk", Type: "blob", Payload: randomLetters(4096)}

	err := a.Send(b.Addr(), blob)
	var tooLarge *PackageTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 1024, tooLarge.Limit)

	// 请求路径同样在发送前失败，且不留下未决会话
	err = a.SendAndReceive(context.Background(), b.Addr(), blob, nil)
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 0, a.PendingSessions())

	// 上限可配置
	c := startTestNode(t, WithUDP(0), WithMaxPackageSize(512))
	err = c.Send(b.Addr(), Message{Topic: "bulk", Type: "blob", Payload: randomLetters(2048)})
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 512, tooLarge.Limit)
	t.Log("✅ 超限拒绝测试通过")
}

// TestNode_Hooks 测试发送前与接收后钩子
func TestNode_Hooks(t *testing.T) {
	a := startTestNode(t, WithUDP(0))
	b := newTestNode(t, WithUDP(0))
	require.NoError(t, b.RegisterHandler("chat", "notify",
		func(ctx context.Context, args ...any) (any, error) { return nil, nil },
		ShapeNone,
	))
	require.NoError(t, b.Listen(context.Background()))

	sentTo := make(chan Address, 1)
	receivedFrom := make(chan Address, 1)
	a.SetBeforeSendHook(func(pkg *Package, to Address) { sentTo <- to })
	b.SetAfterReceiveHook(func(pkg *Package, from Address) { receivedFrom <- from })

	require.NoError(t, a.Send(b.Addr(), Message{Topic: "chat", Type: "notify", Payload: "hi"}))

	select {
	case to := <-sentTo:
		assert.Equal(t, b.Addr(), to)
	case <-time.After(3 * time.Second):
		t.Fatal("before-send hook never fired")
	}
	select {
	case from := <-receivedFrom:
		assert.Equal(t, a.Addr(), from)
	case <-time.After(3 * time.Second):
		t.Fatal("after-receive hook never fired")
	}
	t.Log("✅ 收发钩子测试通过")
}

// ============================================================================
//                              配置选项
// ============================================================================

// TestNode_Options 测试配置来源选项与参数校验
func TestNode_Options(t *testing.T) {
	t.Run("WithConfig", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.Host = "127.0.0.1"
		node, err := New(WithConfig(cfg))
		require.NoError(t, err)
		t.Cleanup(func() { _ = node.Close() })
		assert.NotZero(t, node.Addr().Port)
	})

	t.Run("ConfigSourcesConflict", func(t *testing.T) {
		_, err := New(WithConfig(config.NewConfig()), WithConfigFile("courier.json"))
		assert.Error(t, err)
	})

	t.Run("DialNotEnabled", func(t *testing.T) {
		_, err := New(WithHost("127.0.0.1"), WithDial("tcp"))
		assert.Error(t, err)
	})

	t.Run("EmptyHost", func(t *testing.T) {
		_, err := New(WithHost(""))
		assert.Error(t, err)
	})
	t.Log("✅ 配置选项测试通过")
}
