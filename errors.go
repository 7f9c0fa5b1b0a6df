package courier

import (
	"errors"

	"github.com/dep2p/go-courier/pkg/types"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点尚未开始监听
	ErrNotStarted = errors.New("node not listening")

	// ErrAlreadyStarted 节点已在监听
	ErrAlreadyStarted = errors.New("node already listening")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")
)

// 核心错误再导出，调用方无需直接引用 pkg/types
var (
	// ErrResponseTimeout 等待响应超时
	ErrResponseTimeout = types.ErrResponseTimeout

	// ErrUnknownSession 未知的会话
	ErrUnknownSession = types.ErrUnknownSession

	// ErrDuplicateHandler 重复注册处理器
	ErrDuplicateHandler = types.ErrDuplicateHandler

	// ErrUnknownHandler 无匹配处理器
	ErrUnknownHandler = types.ErrUnknownHandler

	// ErrRegistryFrozen 注册表已冻结
	ErrRegistryFrozen = types.ErrRegistryFrozen

	// ErrInvalidHandler 非法的处理器注册参数
	ErrInvalidHandler = types.ErrInvalidHandler

	// ErrNoPayload 消息不携带负载
	ErrNoPayload = types.ErrNoPayload

	// ErrTransportClosed 传输绑定已关闭
	ErrTransportClosed = types.ErrTransportClosed

	// ErrSendFailed 传输写入失败
	ErrSendFailed = types.ErrSendFailed

	// ErrNoBinding 无可用的传输绑定
	ErrNoBinding = types.ErrNoBinding
)

// 参数化错误类型别名
type (
	// DecodeError 包解码失败
	DecodeError = types.DecodeError

	// PackageTooLargeError 包超出大小限制
	PackageTooLargeError = types.PackageTooLargeError
)
