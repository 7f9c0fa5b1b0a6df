package transport

import (
	"context"
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

// testConfig 返回只启用 UDP 的最小测试配置
func testConfig() Config {
	cfg := NewConfig()
	cfg.Host = "127.0.0.1"
	cfg.EnableUDP = true
	cfg.UDPPort = 0
	cfg.Dial = "udp"
	return cfg
}

// newTestManager 创建测试管理器并挂接清理
func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, peerbook.NewBook(), metrics.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// startManager 在后台驱动管理器监听并在清理时校验退出
func startManager(t *testing.T, m *Manager, handler interfaces.PackageHandler) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- m.Listen(context.Background(), handler) }()
	t.Cleanup(func() {
		_ = m.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("manager listen did not stop")
		}
	})
}

// testPackage 构造测试包
func testPackage(t *testing.T, msgType string, sessionID int64, stage types.Stage) *types.Package {
	t.Helper()
	pkg, err := envelope.Pack(
		types.Message{Topic: "test", Type: msgType, Payload: "x"},
		types.PackageMetadata{SessionID: sessionID, Stage: stage},
	)
	require.NoError(t, err)
	return pkg
}
