package courier

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-courier/config"
	"github.com/dep2p/go-courier/internal/core/dispatch"
	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/peerbook"
	"github.com/dep2p/go-courier/internal/core/session"
	"github.com/dep2p/go-courier/internal/core/transport"
)

// buildFxApp 组装节点组件
//
// 加载顺序（按依赖）：
//  1. 配置注入
//  2. 指标集（其余组件共享）
//  3. 地址簿 → 会话管理器 → 注册表/分发器
//  4. 传输管理器（创建即绑定套接字）
func buildFxApp(cfg *config.Config, node *Node) (*fx.App, error) {
	// 配置验证（前置）
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	app := fx.New(
		// 配置注入
		fx.Supply(cfg),

		// 核心模块
		metrics.Module(),
		peerbook.Module(),
		session.Module(),
		dispatch.Module(),
		transport.Module(),

		// Node 组件注入
		fx.Populate(
			&node.book,
			&node.sessions,
			&node.registry,
			&node.dispatcher,
			&node.transport,
		),

		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return nil, err
	}

	return app, nil
}
