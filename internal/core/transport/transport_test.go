package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-courier/internal/core/envelope"
	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/peerbook"
	"github.com/dep2p/go-courier/pkg/types"
)

// TestNewManager_DialBindingMustBeEnabled 测试拨号绑定未启用时创建失败
func TestNewManager_DialBindingMustBeEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Dial = "tcp"

	_, err := NewManager(cfg, peerbook.NewBook(), metrics.NewNop())
	assert.ErrorIs(t, err, types.ErrNoBinding)
}

// TestNewManager_ResolvesPorts 测试端口 0 在创建时解析为实际端口
func TestNewManager_ResolvesPorts(t *testing.T) {
	m := newTestManager(t, testConfig())
	assert.Greater(t, m.AdvertisedPort(), 0)
	assert.Equal(t, "udp", m.DialBinding())

	b, ok := m.Binding("udp")
	require.True(t, ok)
	assert.Equal(t, m.AdvertisedPort(), b.AdvertisedPort())

	_, ok = m.Binding("tcp")
	assert.False(t, ok)
}

// TestManager_EndToEnd 测试两个管理器之间的请求响应
func TestManager_EndToEnd(t *testing.T) {
	m1 := newTestManager(t, testConfig())
	m2 := newTestManager(t, testConfig())

	responses := make(chan *types.Package, 1)
	startManager(t, m1, func(pkg *types.Package, from types.Address) *types.Package {
		responses <- pkg
		return nil
	})
	startManager(t, m2, func(pkg *types.Package, from types.Address) *types.Package {
		if pkg.Metadata.Stage != types.StageRequest {
			return nil
		}
		reply, _ := envelope.Pack(
			types.Message{Topic: pkg.Message.Topic, Type: pkg.Message.Type, Payload: "PONG"},
			types.PackageMetadata{SessionID: pkg.Metadata.SessionID, Stage: types.StageResponse},
		)
		return reply
	})

	req := testPackage(t, "ping", 7, types.StageRequest)
	require.NoError(t, m1.Send(types.NewAddress("127.0.0.1", m2.AdvertisedPort()), req))

	select {
	case pkg := <-responses:
		assert.Equal(t, int64(7), pkg.Metadata.SessionID)
		assert.Equal(t, types.StageResponse, pkg.Metadata.Stage)
	case <-time.After(3 * time.Second):
		t.Fatal("response not received")
	}
}

// TestManager_MultiBindingListen 测试多绑定同时接收
func TestManager_MultiBindingListen(t *testing.T) {
	cfg := testConfig()
	cfg.EnableTCP = true
	cfg.TCPPort = 0
	m := newTestManager(t, cfg)

	inbound := make(chan *types.Package, 2)
	startManager(t, m, func(pkg *types.Package, from types.Address) *types.Package {
		inbound <- pkg
		return nil
	})

	// UDP 入站
	udpSender := newTestManager(t, testConfig())
	require.NoError(t, udpSender.Send(
		types.NewAddress("127.0.0.1", m.AdvertisedPort()),
		testPackage(t, "via-udp", 0, types.StageInactive),
	))

	// TCP 入站
	tcpCfg := testConfig()
	tcpCfg.EnableTCP = true
	tcpCfg.TCPPort = 0
	tcpCfg.Dial = "tcp"
	tcpSender := newTestManager(t, tcpCfg)
	tcpBinding, ok := m.Binding("tcp")
	require.True(t, ok)
	require.NoError(t, tcpSender.Send(
		types.NewAddress("127.0.0.1", tcpBinding.AdvertisedPort()),
		testPackage(t, "via-tcp", 0, types.StageInactive),
	))

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case pkg := <-inbound:
			seen[pkg.Message.Type] = true
		case <-time.After(3 * time.Second):
			t.Fatalf("only %d of 2 packages arrived", i)
		}
	}
	assert.True(t, seen["via-udp"])
	assert.True(t, seen["via-tcp"])
}

// TestManager_Hooks 测试钩子对全部绑定生效
func TestManager_Hooks(t *testing.T) {
	m1 := newTestManager(t, testConfig())
	m2 := newTestManager(t, testConfig())

	var mu sync.Mutex
	var sent, receivedCount int
	m1.SetBeforeSendHook(func(*types.Package, types.Address) {
		mu.Lock()
		sent++
		mu.Unlock()
	})
	m2.SetAfterReceiveHook(func(*types.Package, types.Address) {
		mu.Lock()
		receivedCount++
		mu.Unlock()
	})

	delivered := make(chan *types.Package, 1)
	startManager(t, m2, func(pkg *types.Package, from types.Address) *types.Package {
		delivered <- pkg
		return nil
	})

	require.NoError(t, m1.Send(
		types.NewAddress("127.0.0.1", m2.AdvertisedPort()),
		testPackage(t, "notify", 0, types.StageInactive),
	))
	select {
	case <-delivered:
	case <-time.After(3 * time.Second):
		t.Fatal("package not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, receivedCount)
}

// TestManager_Close 测试关闭幂等且关闭后拒绝收发
func TestManager_Close(t *testing.T) {
	m := newTestManager(t, testConfig())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.Send(types.NewAddress("127.0.0.1", 1), testPackage(t, "notify", 0, types.StageInactive))
	assert.ErrorIs(t, err, types.ErrTransportClosed)

	err = m.Listen(context.Background(), func(*types.Package, types.Address) *types.Package { return nil })
	assert.ErrorIs(t, err, types.ErrTransportClosed)
}
