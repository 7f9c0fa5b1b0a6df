package session

import (
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-courier/config"
)

// ============================================================================
// Fx 模块
// ============================================================================

// Config 会话管理器配置
type Config struct {
	// ResponseTimeout 等待响应的默认超时
	ResponseTimeout time.Duration

	// EvictedCacheSize 已逐出会话 id 短名单容量
	EvictedCacheSize int
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		ResponseTimeout:  10 * time.Second,
		EvictedCacheSize: 1024,
	}
}

// ConfigFromUnified 从统一配置创建会话配置
func ConfigFromUnified(cfg *config.Config) *Config {
	if cfg == nil {
		return NewConfig()
	}
	return &Config{
		ResponseTimeout:  cfg.Session.ResponseTimeout.Duration(),
		EvictedCacheSize: cfg.Session.EvictedCacheSize,
	}
}

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Manager *Manager
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("session",
		fx.Provide(
			ProvideConfig,
			ProvideManager,
		),
	)
}

// ProvideConfig 从统一配置提供会话配置
func ProvideConfig(cfg *config.Config) *Config {
	return ConfigFromUnified(cfg)
}

// ProvideManager 提供会话管理器
func ProvideManager(cfg *Config) (Result, error) {
	m, err := NewManager(cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{Manager: m}, nil
}
