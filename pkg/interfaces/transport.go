package interfaces

import (
	"context"
	"sync"

	"github.com/dep2p/go-courier/pkg/types"
)

// ============================================================================
//                              传输契约
// ============================================================================

// PackageHandler 入站包处理器
//
// 绑定在每个解码成功的入站包上调用。from 是对端的逻辑地址
// （观测地址按宣告端口重映射后的结果）。返回非 nil 包时，
// 绑定通过同一条通道将其回送给对端。
type PackageHandler func(pkg *types.Package, from types.Address) *types.Package

// Binding 传输绑定
//
// 一个绑定对应一种底层通道（udp/tcp/ws/quic）。实现必须保证
// 同一连接上的包按到达顺序交给处理器。
type Binding interface {
	// Send 将包发送到目标地址
	//
	// 发送是尽力而为：对端不可达不视为错误。编码超限、
	// 绑定已关闭等本地故障返回错误。
	Send(to types.Address, pkg *types.Package) error

	// Listen 启动接收循环并阻塞，直到 ctx 取消或绑定关闭
	Listen(ctx context.Context, handler PackageHandler) error

	// AdvertisedPort 返回对外宣告的监听端口
	AdvertisedPort() int

	// Close 关闭绑定并释放底层资源
	Close() error
}

// ============================================================================
//                              收发钩子
// ============================================================================

// SendHook 发送前钩子，在包编码前调用
type SendHook func(pkg *types.Package, to types.Address)

// ReceiveHook 接收后钩子，在包解码后、分发前调用
type ReceiveHook func(pkg *types.Package, from types.Address)

// Hooks 收发钩子集合
//
// 钩子在接收循环内同步执行，因此同一连接上的调用保持到达顺序。
type Hooks struct {
	mu           sync.RWMutex
	beforeSend   SendHook
	afterReceive ReceiveHook
}

// SetBeforeSend 设置发送前钩子，nil 表示清除
func (h *Hooks) SetBeforeSend(hook SendHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beforeSend = hook
}

// SetAfterReceive 设置接收后钩子，nil 表示清除
func (h *Hooks) SetAfterReceive(hook ReceiveHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.afterReceive = hook
}

// BeforeSend 调用发送前钩子（未设置时为空操作）
func (h *Hooks) BeforeSend(pkg *types.Package, to types.Address) {
	h.mu.RLock()
	hook := h.beforeSend
	h.mu.RUnlock()
	if hook != nil {
		hook(pkg, to)
	}
}

// AfterReceive 调用接收后钩子（未设置时为空操作）
func (h *Hooks) AfterReceive(pkg *types.Package, from types.Address) {
	h.mu.RLock()
	hook := h.afterReceive
	h.mu.RUnlock()
	if hook != nil {
		hook(pkg, from)
	}
}
