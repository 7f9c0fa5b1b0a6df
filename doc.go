// Package courier 提供轻量的点对点消息基盘
//
// Courier 在 UDP、TCP、WebSocket 或 QUIC 之上提供统一的
// 包语义：单向通知与请求/响应两种收发模式，按 (topic, type)
// 路由到注册的处理器。
//
// # 核心概念
//
// Courier 围绕四个核心概念构建：
//
//   - Node: 消息节点，用户交互的主入口
//   - Message: 按 (topic, type) 路由的消息，负载任意可 JSON 化
//   - Session: 请求/响应的会话关联（REQUEST → RESPONSE → CONSUMED）
//   - Binding: 底层传输通道（udp/tcp/ws/quic），对上层透明
//
// # 快速开始
//
//	import "github.com/dep2p/go-courier"
//
//	// 1. 创建节点
//	node, err := courier.New(
//	    courier.WithHost("127.0.0.1"),
//	    courier.WithUDP(4100),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 2. 注册处理器（Listen 前）
//	node.RegisterHandler("math", "add", func(ctx context.Context, args ...any) (any, error) {
//	    req := args[0].(*AddRequest)
//	    return &AddReply{Sum: req.A + req.B}, nil
//	}, courier.ShapePayload,
//	    courier.WithPayloadPrototype(func() any { return &AddRequest{} }),
//	)
//
//	// 3. 启动接收循环
//	if err := node.Listen(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// 4. 请求并等待响应
//	var reply AddReply
//	err = node.SendAndReceive(ctx, peer, courier.Message{
//	    Topic:   "math",
//	    Type:    "add",
//	    Payload: &AddRequest{A: 2, B: 3},
//	}, &reply)
//
// # 收发语义
//
// 两种收发模式对应两种会话元数据：
//
//   - Send: 无会话（INACTIVE），即发即弃。对端不可达不报错，
//     处理器的返回值被丢弃。
//   - SendAndReceive: 请求会话（REQUEST），对端处理器的非 nil
//     返回值自动作为响应（RESPONSE）回送并解析到 out；超时
//     返回 ErrResponseTimeout。
//
// 响应总是从处理请求的那个节点发回发起方的宣告地址：节点用
// 临时端口发包时在包元数据里携带自己的监听端口，接收方将观测
// 地址重映射为逻辑地址后再进入分发。
//
// # 传输绑定
//
// 四种绑定共享同一套包语义：一个包对应一个 UDP 报文、一条
// 带 4 字节长度前缀的 TCP 帧、一条 WebSocket 二进制消息或
// 一条 QUIC 流（流内同样带长度前缀）。超过配置上限的包在
// 编码阶段被拒绝，不会写入任何字节。
//
// # 文件组织
//
//	courier/
//	├── node.go               # Node 门面、生命周期、收发
//	├── options.go            # WithXxx 配置选项
//	├── fx.go                 # 组件装配
//	├── types.go              # 公共类型别名
//	├── errors.go             # 错误定义与再导出
//	│
//	├── config/               # 统一配置（JSON）
//	├── pkg/types/            # 线缆类型、地址、会话、错误
//	├── pkg/interfaces/       # 处理器与传输契约
//	│
//	├── internal/core/envelope/   # JSON + deflate 编解码、分帧
//	├── internal/core/peerbook/   # 观测地址 ↔ 宣告地址簿
//	├── internal/core/session/    # 请求/响应会话关联
//	├── internal/core/dispatch/   # 处理器注册表与分发器
//	├── internal/core/transport/  # udp/tcp/ws/quic 绑定
//	├── internal/core/metrics/    # Prometheus 指标
//	└── internal/util/logger/     # 结构化日志
//
// 更多信息请访问: https://github.com/dep2p/go-courier
package courier
