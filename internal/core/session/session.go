// Package session 实现请求/响应会话关联
//
// 出站请求在此登记一个关联槽，入站响应按会话 id 填充它。
// 等待只阻塞发起调用的任务，接收循环永远不会在关联上阻塞，
// 因此未决请求再多也不影响入站包的及时排空。
package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-courier/internal/util/logger"
	"github.com/dep2p/go-courier/pkg/types"
)

// pending 未决响应关联槽
type pending struct {
	session *types.Session
	ch      chan []byte
}

// Manager 会话管理器
//
// 维护未决关联槽与已逐出会话 id 的短名单。后者用于区分
// 晚到的响应（本地已超时逐出）与来历不明的响应。
type Manager struct {
	mu      sync.Mutex
	pending map[int64]*pending
	evicted *lru.Cache[int64, struct{}]

	clk     clock.Clock
	timeout time.Duration
	log     *slog.Logger
}

// Option 管理器选项
type Option func(*Manager)

// WithClock 替换时钟源（测试用）
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clk = clk
	}
}

// NewManager 创建会话管理器
func NewManager(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if cfg.ResponseTimeout <= 0 {
		return nil, fmt.Errorf("session: response timeout must be positive, got %s", cfg.ResponseTimeout)
	}
	evicted, err := lru.New[int64, struct{}](cfg.EvictedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("session: evicted cache: %w", err)
	}

	m := &Manager{
		pending: make(map[int64]*pending),
		evicted: evicted,
		clk:     clock.New(),
		timeout: cfg.ResponseTimeout,
		log:     logger.Logger("session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ============================================================================
//                              会话创建
// ============================================================================

// Create 创建请求会话
//
// id 从均匀随机分布中抽取，与未决或刚逐出的 id 冲突时重抽。
func (m *Manager) Create() (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		id, err := randomID()
		if err != nil {
			return nil, err
		}
		if id == 0 {
			continue
		}
		if _, exists := m.pending[id]; exists {
			continue
		}
		if m.evicted.Contains(id) {
			continue
		}
		return types.NewSession(id), nil
	}
}

// CreateInactive 创建即发即弃会话
func (m *Manager) CreateInactive() *types.Session {
	return types.NewInactiveSession()
}

// randomID 抽取一个非负的随机会话 id
func randomID() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate session id: %w", err)
	}
	return int64(binary.BigEndian.Uint64(buf[:]) & math.MaxInt64), nil
}

// ============================================================================
//                              关联槽
// ============================================================================

// Register 为会话登记关联槽
//
// 必须在包发出之前调用，否则响应可能先于登记到达。
func (m *Manager) Register(s *types.Session) error {
	if s.Stage() != types.StageRequest {
		return fmt.Errorf("%w: register requires REQUEST, got %s", types.ErrInvalidSessionState, s.Stage())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pending[s.ID()]; exists {
		return fmt.Errorf("%w: %d", types.ErrSessionExists, s.ID())
	}
	m.pending[s.ID()] = &pending{
		session: s,
		ch:      make(chan []byte, 1),
	}
	return nil
}

// Resolve 用响应负载填充关联槽
//
// 槽在锁内摘除后才投递，保证每个会话至多被解析一次。
// 没有对应槽时静默失败：晚到的响应只记调试日志，
// 来历不明的响应记警告。
func (m *Manager) Resolve(id int64, payload []byte) error {
	m.mu.Lock()
	slot, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		if m.evicted.Contains(id) {
			m.log.Debug("响应晚于超时到达，丢弃", "sessionId", id)
		} else {
			m.log.Warn("未知会话，丢弃响应", "sessionId", id)
		}
		return fmt.Errorf("%w: %d", types.ErrUnknownSession, id)
	}

	if err := slot.session.Advance(); err != nil {
		m.log.Warn("会话状态推进失败", "sessionId", id, "error", err)
	}
	slot.ch <- payload
	return nil
}

// Await 阻塞等待响应负载
//
// 只阻塞调用方。timeout 不为正时使用配置默认值；超时后槽被
// 逐出并记入短名单。ctx 取消同样逐出槽并返回 ctx 的错误。
func (m *Manager) Await(ctx context.Context, id int64, timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	slot, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownSession, id)
	}

	if timeout <= 0 {
		timeout = m.timeout
	}
	timer := m.clk.Timer(timeout)
	defer timer.Stop()

	select {
	case payload := <-slot.ch:
		return m.consume(slot, payload)
	case <-timer.C:
		// 解析可能与定时器同时触发，优先取已投递的响应
		select {
		case payload := <-slot.ch:
			return m.consume(slot, payload)
		default:
		}
		m.evict(id)
		return nil, fmt.Errorf("%w: session %d after %s", types.ErrResponseTimeout, id, timeout)
	case <-ctx.Done():
		m.evict(id)
		return nil, ctx.Err()
	}
}

// consume 取走响应并将会话推进到终态
func (m *Manager) consume(slot *pending, payload []byte) ([]byte, error) {
	if err := slot.session.Advance(); err != nil {
		return nil, err
	}
	return payload, nil
}

// Drop 撤销一个从未发出的会话登记
//
// 包发送失败时调用。槽直接丢弃，不记入短名单：这个 id
// 从未上过线，之后出现的同名响应确属来历不明。
func (m *Manager) Drop(id int64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// evict 逐出超时或被取消的槽并记入短名单
func (m *Manager) evict(id int64) {
	m.mu.Lock()
	_, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if ok {
		m.evicted.Add(id, struct{}{})
	}
}

// PendingCount 返回未决关联槽数量
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
