package peerbook

import (
	"go.uber.org/fx"
)

// ============================================================================
// Fx 模块
// ============================================================================

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Book *Book
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("peerbook",
		fx.Provide(ProvideBook),
	)
}

// ProvideBook 提供地址簿实例
func ProvideBook() Result {
	return Result{
		Book: NewBook(),
	}
}
