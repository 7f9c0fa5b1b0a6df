package config

import (
	"fmt"
	"time"
)

// SessionConfig 会话配置
//
// 控制请求响应关联的等待与淘汰行为。
type SessionConfig struct {
	// ResponseTimeout 等待响应的默认超时
	ResponseTimeout Duration `json:"response_timeout"`

	// EvictedCacheSize 超时会话 ID 的记忆容量
	//
	// 超时后迟到的响应凭此与从未存在的会话区分开，
	// 仅影响日志与指标口径。
	EvictedCacheSize int `json:"evicted_cache_size"`
}

// NewSessionConfig 创建默认会话配置
func NewSessionConfig() SessionConfig {
	return SessionConfig{
		ResponseTimeout:  Duration(10 * time.Second),
		EvictedCacheSize: 1024,
	}
}

// Validate 验证会话配置
func (c *SessionConfig) Validate() error {
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("config: session response timeout must be positive")
	}
	if c.EvictedCacheSize <= 0 {
		return fmt.Errorf("config: session evicted cache size must be positive")
	}
	return nil
}
