// Package transport 实现包传输层
//
// Transport 把编码后的包搬运到对端，并把入站字节还原成包。
// 四种绑定共享同一契约，可按配置任选其一作为出站通道：
//
//   - UDP：无连接，一包一报文，超长读取直接丢弃
//   - TCP：按地址懒建连接并缓存复用，4 字节大端长度前缀分帧
//   - WebSocket：一包一条二进制消息，适合穿越 HTTP 基础设施
//   - QUIC：一包一条双向流，共享单个 UDP 套接字收发
//
// # 核心职责
//
//   - 出站：盖上宣告端口，执行发送前钩子，编码并校验大小上限
//   - 入站：解码、经地址簿重映射发送方、执行接收后钩子、移交处理器
//   - 回送：处理器返回的响应包沿同一绑定写回对端
//
// # 失败处理
//
// 解码失败、截断读取与超限帧只影响所在连接或单个报文，
// 接收循环不会因此退出。对端不可达不视为发送错误。
//
// # 并发安全
//
// 连接缓存使用 sync.RWMutex 保护；单条连接上的写操作由
// 各自的写锁串行化。
//
// # Fx 模块集成
//
//	import (
//	    "go.uber.org/fx"
//	    "github.com/dep2p/go-courier/internal/core/transport"
//	)
//
//	app := fx.New(
//	    transport.Module(),
//	    fx.Invoke(func(tm *transport.Manager) {
//	        // 使用传输管理器
//	    }),
//	)
package transport
