package courier

import (
	"github.com/dep2p/go-courier/pkg/interfaces"
	"github.com/dep2p/go-courier/pkg/types"
)

// ============================================================================
//                              核心类型别名
// ============================================================================

// 调用方只需要导入根包即可使用全部公共类型。
type (
	// Address 对端逻辑地址
	Address = types.Address

	// Message 未序列化的消息
	Message = types.Message

	// Package 线缆传输单元
	Package = types.Package

	// Session 请求/响应会话视图
	Session = types.Session

	// Stage 会话阶段
	Stage = types.Stage
)

// 会话阶段常量
const (
	// StageRequest 请求阶段
	StageRequest = types.StageRequest

	// StageResponse 响应阶段
	StageResponse = types.StageResponse

	// StageConsumed 已消费（终止，仅本地）
	StageConsumed = types.StageConsumed

	// StageInactive 无会话（终止，单向消息）
	StageInactive = types.StageInactive
)

// NewAddress 创建逻辑地址
func NewAddress(host string, port int) Address {
	return types.NewAddress(host, port)
}

// ParseAddress 从 "host:port" 解析逻辑地址
func ParseAddress(s string) (Address, error) {
	return types.ParseAddress(s)
}

// ============================================================================
//                              处理器契约别名
// ============================================================================

type (
	// HandlerFunc 消息处理器
	HandlerFunc = interfaces.HandlerFunc

	// HandlerOption 处理器注册选项
	HandlerOption = interfaces.HandlerOption

	// Shape 处理器参数形状
	Shape = interfaces.Shape

	// SendHook 发送前钩子
	SendHook = interfaces.SendHook

	// ReceiveHook 接收后钩子
	ReceiveHook = interfaces.ReceiveHook
)

// 预声明的常用形状
var (
	// ShapeNone 无参数
	ShapeNone = interfaces.ShapeNone

	// ShapePayload 仅负载
	ShapePayload = interfaces.ShapePayload

	// ShapePayloadSender 负载 + 发送方
	ShapePayloadSender = interfaces.ShapePayloadSender

	// ShapePayloadSenderSession 负载 + 发送方 + 会话
	ShapePayloadSenderSession = interfaces.ShapePayloadSenderSession

	// ShapeSender 仅发送方
	ShapeSender = interfaces.ShapeSender
)

// WithPayloadPrototype 设置负载原型工厂
//
// 注册时声明负载的具体类型，分发器将入站负载反序列化到
// 新原型实例后再交给处理器：
//
//	node.RegisterHandler("chat", "message", handler, courier.ShapePayload,
//	    courier.WithPayloadPrototype(func() any { return &ChatMessage{} }),
//	)
func WithPayloadPrototype(factory func() any) HandlerOption {
	return interfaces.WithPayloadPrototype(factory)
}
