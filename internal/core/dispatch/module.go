package dispatch

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-courier/internal/core/metrics"
	"github.com/dep2p/go-courier/internal/core/session"
)

// ============================================================================
//                              Fx 模块定义
// ============================================================================

// Result 模块输出
type Result struct {
	fx.Out

	Registry   *Registry
	Dispatcher *Dispatcher
}

// Module 返回分发模块
func Module() fx.Option {
	return fx.Module("dispatch",
		fx.Provide(Provide),
	)
}

// Provide 构建注册表与分发器
func Provide(sessions *session.Manager, mts *metrics.Metrics) Result {
	registry := NewRegistry()
	return Result{
		Registry:   registry,
		Dispatcher: NewDispatcher(registry, sessions, mts),
	}
}
