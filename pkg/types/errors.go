// Package types 定义 Courier 的基础类型
//
// 本文件定义所有公共错误类型。
package types

import (
	"errors"
	"fmt"
)

// ============================================================================
//                              编解码相关错误
// ============================================================================

var (
	// ErrNoPayload 消息不携带负载
	ErrNoPayload = errors.New("message has no payload")

	// ErrUnknownStage 未知的会话阶段
	ErrUnknownStage = errors.New("unknown session stage")

	// ErrInvalidAddress 无效的地址
	ErrInvalidAddress = errors.New("invalid address")
)

// DecodeError 包解码失败
//
// 解压失败、结构解码失败等均归入此类。接收方记录日志后丢弃该包，
// 绝不产生默认值，也不中断接收循环。
type DecodeError struct {
	// Op 失败环节（inflate、unmarshal、payload）
	Op string

	// Err 底层错误
	Err error
}

// Error 实现 error 接口
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode package: %s: %v", e.Op, e.Err)
}

// Unwrap 返回底层错误
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError 创建解码错误
func NewDecodeError(op string, err error) *DecodeError {
	return &DecodeError{Op: op, Err: err}
}

// PackageTooLargeError 包超出大小限制
//
// 在任何字节进入传输层之前抛给发送方，绝不静默截断。
type PackageTooLargeError struct {
	// Size 编码后的包大小（字节）
	Size int

	// Limit 绑定允许的最大包大小（字节）
	Limit int
}

// Error 实现 error 接口
func (e *PackageTooLargeError) Error() string {
	return fmt.Sprintf("package too large: %d bytes exceeds limit %d", e.Size, e.Limit)
}

// ============================================================================
//                              会话相关错误
// ============================================================================

var (
	// ErrInvalidSessionState 非法的会话阶段转换
	ErrInvalidSessionState = errors.New("invalid session state")

	// ErrResponseTimeout 等待响应超时
	ErrResponseTimeout = errors.New("response timeout")

	// ErrUnknownSession 未知的会话
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionExists 会话已注册
	ErrSessionExists = errors.New("session already registered")
)

// ============================================================================
//                              分发相关错误
// ============================================================================

var (
	// ErrDuplicateHandler 重复注册处理器
	ErrDuplicateHandler = errors.New("duplicate handler")

	// ErrUnknownHandler 无匹配处理器
	ErrUnknownHandler = errors.New("unknown handler")

	// ErrRegistryFrozen 注册表已冻结
	ErrRegistryFrozen = errors.New("handler registry frozen")

	// ErrInvalidHandler 非法的处理器注册参数
	ErrInvalidHandler = errors.New("invalid handler registration")
)

// ============================================================================
//                              传输相关错误
// ============================================================================

var (
	// ErrTransportClosed 传输绑定已关闭
	ErrTransportClosed = errors.New("transport closed")

	// ErrSendFailed 传输写入失败
	ErrSendFailed = errors.New("send failed")

	// ErrNoBinding 无可用的传输绑定
	ErrNoBinding = errors.New("no transport binding available")
)
