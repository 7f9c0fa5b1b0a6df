package udp

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-courier/internal/core/envelope"
	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/peerbook"
	"github.com/dep2p/go-courier/pkg/interfaces"
	"github.com/dep2p/go-courier/pkg/types"
)

type received struct {
	pkg  *types.Package
	from types.Address
}

func newBinding(t *testing.T, hooks *interfaces.Hooks) *Transport {
	t.Helper()
	if hooks == nil {
		hooks = &interfaces.Hooks{}
	}
	b, err := New(Config{Host: "127.0.0.1", Port: 0, MaxPackageSize: 1024}, peerbook.NewBook(), hooks, metrics.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func startListen(t *testing.T, b *Transport, handler interfaces.PackageHandler) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- b.Listen(context.Background(), handler) }()
	t.Cleanup(func() {
		_ = b.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("listen did not stop")
		}
	})
}

func collector(ch chan<- received) interfaces.PackageHandler {
	return func(pkg *types.Package, from types.Address) *types.Package {
		ch <- received{pkg, from}
		return nil
	}
}

func mustPack(t *testing.T, msg types.Message, meta types.PackageMetadata) *types.Package {
	t.Helper()
	pkg, err := envelope.Pack(msg, meta)
	require.NoError(t, err)
	return pkg
}

// TestTransport_RequestResponse 测试两个绑定之间的请求响应往返
func TestTransport_RequestResponse(t *testing.T) {
	a := newBinding(t, nil)
	b := newBinding(t, nil)

	responses := make(chan received, 1)
	startListen(t, a, collector(responses))
	startListen(t, b, func(pkg *types.Package, from types.Address) *types.Package {
		if pkg.Metadata.Stage != types.StageRequest {
			return nil
		}
		// 处理器跑在独立协程上，不能用 require
		reply, _ := envelope.Pack(
			types.Message{Topic: pkg.Message.Topic, Type: pkg.Message.Type, Payload: "PONG"},
			types.PackageMetadata{SessionID: pkg.Metadata.SessionID, Stage: types.StageResponse},
		)
		return reply
	})

	req := mustPack(t,
		types.Message{Topic: "chat", Type: "ping", Payload: "x"},
		types.PackageMetadata{SessionID: 77, Stage: types.StageRequest},
	)
	require.NoError(t, a.Send(types.NewAddress("127.0.0.1", b.AdvertisedPort()), req))

	select {
	case got := <-responses:
		assert.Equal(t, int64(77), got.pkg.Metadata.SessionID)
		assert.Equal(t, types.StageResponse, got.pkg.Metadata.Stage)
		// 发送方地址被重映射到对端宣告端口
		assert.Equal(t, types.NewAddress("127.0.0.1", b.AdvertisedPort()), got.from)
	case <-time.After(3 * time.Second):
		t.Fatal("response not received")
	}
}

// TestTransport_OversizedSend 测试超限包在发出前被拒绝
func TestTransport_OversizedSend(t *testing.T) {
	a := newBinding(t, nil)
	b := newBinding(t, nil)

	inbound := make(chan received, 1)
	startListen(t, b, collector(inbound))

	pkg := mustPack(t,
		types.Message{Topic: "bulk", Type: "blob", Payload: randomBlob(4096)},
		types.PackageMetadata{Stage: types.StageInactive},
	)
	err := a.Send(types.NewAddress("127.0.0.1", b.AdvertisedPort()), pkg)

	var tooLarge *types.PackageTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 1024, tooLarge.Limit)

	select {
	case <-inbound:
		t.Fatal("oversized package must never reach the wire")
	case <-time.After(100 * time.Millisecond):
	}
}

// randomBlob 构造压缩救不回来的负载
func randomBlob(n int) string {
	rng := rand.New(rand.NewSource(1))
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte('a' + rng.Intn(26))
	}
	return string(buf)
}

// TestTransport_UnreachableNoError 测试对端不可达时发送不报错
func TestTransport_UnreachableNoError(t *testing.T) {
	a := newBinding(t, nil)

	dead := newBinding(t, nil)
	deadAddr := types.NewAddress("127.0.0.1", dead.AdvertisedPort())
	require.NoError(t, dead.Close())

	pkg := mustPack(t,
		types.Message{Topic: "chat", Type: "notify", Payload: "hi"},
		types.PackageMetadata{Stage: types.StageInactive},
	)
	assert.NoError(t, a.Send(deadAddr, pkg))
}

// TestTransport_Hooks 测试收发钩子的触发时机与地址
func TestTransport_Hooks(t *testing.T) {
	var mu sync.Mutex
	var sentTo, receivedFrom []types.Address

	aHooks := &interfaces.Hooks{}
	aHooks.SetBeforeSend(func(_ *types.Package, to types.Address) {
		mu.Lock()
		sentTo = append(sentTo, to)
		mu.Unlock()
	})
	bHooks := &interfaces.Hooks{}
	bHooks.SetAfterReceive(func(_ *types.Package, from types.Address) {
		mu.Lock()
		receivedFrom = append(receivedFrom, from)
		mu.Unlock()
	})

	a := newBinding(t, aHooks)
	b := newBinding(t, bHooks)

	delivered := make(chan received, 1)
	startListen(t, b, collector(delivered))

	to := types.NewAddress("127.0.0.1", b.AdvertisedPort())
	pkg := mustPack(t,
		types.Message{Topic: "chat", Type: "notify", Payload: "hi"},
		types.PackageMetadata{Stage: types.StageInactive},
	)
	require.NoError(t, a.Send(to, pkg))

	select {
	case <-delivered:
	case <-time.After(3 * time.Second):
		t.Fatal("package not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sentTo, 1)
	assert.Equal(t, to, sentTo[0])
	require.Len(t, receivedFrom, 1)
	assert.Equal(t, types.NewAddress("127.0.0.1", a.AdvertisedPort()), receivedFrom[0])
}

// TestTransport_SurvivesGarbage 测试无法解码的报文不中断接收循环
func TestTransport_SurvivesGarbage(t *testing.T) {
	a := newBinding(t, nil)
	b := newBinding(t, nil)

	inbound := make(chan received, 1)
	startListen(t, b, collector(inbound))

	raw, err := net.Dial("udp", types.NewAddress("127.0.0.1", b.AdvertisedPort()).String())
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)

	pkg := mustPack(t,
		types.Message{Topic: "chat", Type: "notify", Payload: "still alive"},
		types.PackageMetadata{Stage: types.StageInactive},
	)
	require.NoError(t, a.Send(types.NewAddress("127.0.0.1", b.AdvertisedPort()), pkg))

	select {
	case got := <-inbound:
		assert.Equal(t, "notify", got.pkg.Message.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("receive loop died after garbage datagram")
	}
}

// TestTransport_SendAfterClose 测试关闭后的发送被拒绝
func TestTransport_SendAfterClose(t *testing.T) {
	a := newBinding(t, nil)
	require.NoError(t, a.Close())

	pkg := mustPack(t,
		types.Message{Topic: "chat", Type: "notify"},
		types.PackageMetadata{Stage: types.StageInactive},
	)
	err := a.Send(types.NewAddress("127.0.0.1", 1), pkg)
	assert.ErrorIs(t, err, types.ErrTransportClosed)
}
