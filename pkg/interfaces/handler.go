// Package interfaces 定义 Courier 的公共契约
//
// 本文件定义消息处理器的注册契约：处理器函数、参数形状与注册条目。
// 参数形状是一个显式的有序描述符，分发时按形状构造参数列表，
// 不依赖反射。
package interfaces

import "context"

// ============================================================================
//                              参数形状
// ============================================================================

// ArgKind 处理器参数种类
type ArgKind int

const (
	// ArgPayload 消息负载（按需反序列化）
	ArgPayload ArgKind = iota
	// ArgSender 发送方逻辑地址（types.Address）
	ArgSender
	// ArgSession 会话视图（*types.Session）
	ArgSession
)

// String 返回参数种类的字符串表示
func (k ArgKind) String() string {
	switch k {
	case ArgPayload:
		return "payload"
	case ArgSender:
		return "sender"
	case ArgSession:
		return "session"
	default:
		return "unknown"
	}
}

// Shape 处理器参数形状（有序）
//
// 记录处理器按顺序消费 {负载, 发送方, 会话} 中的哪些参数。
type Shape []ArgKind

// 预声明的常用形状
var (
	// ShapeNone 无参数
	ShapeNone = Shape{}

	// ShapePayload 仅负载
	ShapePayload = Shape{ArgPayload}

	// ShapePayloadSender 负载 + 发送方
	ShapePayloadSender = Shape{ArgPayload, ArgSender}

	// ShapePayloadSenderSession 负载 + 发送方 + 会话
	ShapePayloadSenderSession = Shape{ArgPayload, ArgSender, ArgSession}

	// ShapeSender 仅发送方
	ShapeSender = Shape{ArgSender}
)

// ============================================================================
//                              处理器
// ============================================================================

// HandlerFunc 消息处理器
//
// args 按注册形状的顺序排列。返回的非 nil 结果在请求阶段
// 自动作为响应回送给发送方；其余阶段丢弃。返回错误只记录日志，
// 不会中断接收循环。
type HandlerFunc func(ctx context.Context, args ...any) (any, error)

// HandlerEntry 处理器注册条目
type HandlerEntry struct {
	// Topic 协议级命名空间
	Topic string

	// Type 消息种类
	Type string

	// Fn 处理器函数
	Fn HandlerFunc

	// Shape 参数形状
	Shape Shape

	// NewPayload 负载原型工厂
	//
	// 形状声明负载参数时必填，入站负载被反序列化到新原型实例。
	// 形状不含负载时无须设置。
	NewPayload func() any
}

// HandlerOption 注册选项
type HandlerOption func(*HandlerEntry)

// WithPayloadPrototype 设置负载原型工厂
func WithPayloadPrototype(factory func() any) HandlerOption {
	return func(e *HandlerEntry) {
		e.NewPayload = factory
	}
}
