// Package dispatch 提供入站包的路由与处理器调度
//
// 注册表以 (topic, type) 二级路由键索引处理器，监听开始前冻结。
// 分发器消费传输层移交的包：RESPONSE 阶段的包直接解析到等待中
// 的会话，其余按路由键找处理器执行，并为带会话的 REQUEST 自动
// 回送处理器返回值。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-courier/internal/core/envelope"
	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/util/logger"
	"github.com/dep2p/go-courier/pkg/interfaces"
	"github.com/dep2p/go-courier/pkg/types"
)

// ============================================================================
//                              Registry - 处理器注册表
// ============================================================================

// routeKey 二级路由键
type routeKey struct {
	topic string
	typ   string
}

// Registry 处理器注册表
//
// 注册发生在监听开始之前，之后由 Freeze 冻结；冻结后注册表只读，
// 查找无须加锁担心写竞争。
type Registry struct {
	mu      sync.RWMutex
	entries map[routeKey]*interfaces.HandlerEntry
	frozen  atomic.Bool
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{entries: make(map[routeKey]*interfaces.HandlerEntry)}
}

// Register 注册处理器
//
// 同一 (topic, type) 只允许一个处理器。形参声明含负载时必须
// 提供负载原型。冻结后注册返回 ErrRegistryFrozen。
func (r *Registry) Register(entry interfaces.HandlerEntry) error {
	if entry.Fn == nil {
		return fmt.Errorf("%w: nil handler func for %s/%s", types.ErrInvalidHandler, entry.Topic, entry.Type)
	}
	for _, kind := range entry.Shape {
		if kind == interfaces.ArgPayload && entry.NewPayload == nil {
			return fmt.Errorf("%w: %s/%s declares payload arg without prototype", types.ErrInvalidHandler, entry.Topic, entry.Type)
		}
	}
	if r.frozen.Load() {
		return fmt.Errorf("%w: cannot register %s/%s after listening started", types.ErrRegistryFrozen, entry.Topic, entry.Type)
	}

	key := routeKey{topic: entry.Topic, typ: entry.Type}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %s/%s", types.ErrDuplicateHandler, entry.Topic, entry.Type)
	}
	r.entries[key] = &entry
	return nil
}

// Get 按路由键查找处理器
func (r *Registry) Get(topic, typ string) (*interfaces.HandlerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[routeKey{topic: topic, typ: typ}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", types.ErrUnknownHandler, topic, typ)
	}
	return entry, nil
}

// Freeze 冻结注册表
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Len 返回已注册处理器数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ============================================================================
//                              Dispatcher - 包分发器
// ============================================================================

// SessionResolver 把响应负载交还给等待中会话的接口
type SessionResolver interface {
	Resolve(id int64, payload []byte) error
}

// Dispatcher 入站包分发器
//
// Dispatch 在传输层为每个包启动的处理协程上运行，返回值非 nil
// 时由所在绑定沿原路回送。
type Dispatcher struct {
	registry *Registry
	sessions SessionResolver
	mts      *metrics.Metrics
	log      *slog.Logger
}

// NewDispatcher 创建分发器
func NewDispatcher(registry *Registry, sessions SessionResolver, mts *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sessions: sessions,
		mts:      mts,
		log:      logger.Logger("dispatch"),
	}
}

// Dispatch 处理一个入站包，返回需要回送的响应包
//
// RESPONSE 阶段的包解析到等待中的会话后即消费完毕，不经过处理器。
// 其余包按路由键执行处理器：带会话的 REQUEST 的非 nil 返回值被
// 打包回送，INACTIVE 包的返回值丢弃。处理器错误与崩溃只记日志。
func (d *Dispatcher) Dispatch(ctx context.Context, pkg *types.Package, from types.Address) *types.Package {
	if pkg.Metadata.Stage == types.StageResponse {
		if err := d.sessions.Resolve(pkg.Metadata.SessionID, pkg.Message.Payload); err != nil {
			d.mts.DispatchOutcome(metrics.OutcomeDiscarded)
			return nil
		}
		d.mts.DispatchOutcome(metrics.OutcomeResolved)
		return nil
	}

	entry, err := d.registry.Get(pkg.Message.Topic, pkg.Message.Type)
	if err != nil {
		d.log.Warn("没有匹配的处理器，丢弃包",
			"topic", pkg.Message.Topic, "type", pkg.Message.Type, "from", from)
		d.mts.DispatchOutcome(metrics.OutcomeUnknownHandler)
		return nil
	}

	args, err := d.buildArgs(entry, pkg, from)
	if err != nil {
		d.log.Warn("负载反序列化失败，丢弃包",
			"topic", pkg.Message.Topic, "type", pkg.Message.Type, "from", from, "error", err)
		d.mts.DispatchOutcome(metrics.OutcomeDiscarded)
		return nil
	}

	start := time.Now()
	result, err := d.invoke(ctx, entry, args)
	d.mts.ObserveHandler(time.Since(start))
	if err != nil {
		var pe *panicError
		if errors.As(err, &pe) {
			d.log.Error("处理器崩溃",
				"topic", entry.Topic, "type", entry.Type, "panic", pe.value, "stack", string(pe.stack))
			d.mts.DispatchOutcome(metrics.OutcomePanic)
			return nil
		}
		d.log.Warn("处理器返回错误",
			"topic", entry.Topic, "type", entry.Type, "from", from, "error", err)
		d.mts.DispatchOutcome(metrics.OutcomeHandlerError)
		return nil
	}

	if pkg.Metadata.Stage == types.StageRequest && pkg.Metadata.HasSession() && result != nil {
		reply, err := envelope.Pack(
			types.Message{Topic: pkg.Message.Topic, Type: pkg.Message.Type, Payload: result},
			types.PackageMetadata{SessionID: pkg.Metadata.SessionID, Stage: types.StageResponse},
		)
		if err != nil {
			d.log.Warn("响应序列化失败，丢弃返回值",
				"topic", entry.Topic, "type", entry.Type, "error", err)
			d.mts.DispatchOutcome(metrics.OutcomeHandlerError)
			return nil
		}
		d.mts.DispatchOutcome(metrics.OutcomeReplied)
		return reply
	}

	d.mts.DispatchOutcome(metrics.OutcomeHandled)
	return nil
}

// buildArgs 按形参声明组装处理器实参
//
// 负载按需反序列化：只有声明了负载形参的处理器才承担解码开销。
// 包不含负载时传入零值原型。
func (d *Dispatcher) buildArgs(entry *interfaces.HandlerEntry, pkg *types.Package, from types.Address) ([]any, error) {
	args := make([]any, 0, len(entry.Shape))
	for _, kind := range entry.Shape {
		switch kind {
		case interfaces.ArgPayload:
			payload := entry.NewPayload()
			if pkg.Message.HasPayload() {
				if err := envelope.Unmarshal(pkg.Message.Payload, payload); err != nil {
					return nil, err
				}
			}
			args = append(args, payload)
		case interfaces.ArgSender:
			args = append(args, from)
		case interfaces.ArgSession:
			args = append(args, types.NewSessionAt(pkg.Metadata.SessionID, pkg.Metadata.Stage))
		default:
			return nil, fmt.Errorf("%w: unsupported arg kind %v", types.ErrInvalidHandler, kind)
		}
	}
	return args, nil
}

// panicError 处理器崩溃的包装
type panicError struct {
	value any
	stack []byte
}

// Error 实现 error 接口
func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}

// invoke 执行处理器并拦截崩溃
func (d *Dispatcher) invoke(ctx context.Context, entry *interfaces.HandlerEntry, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return entry.Fn(ctx, args...)
}
