package config

import "fmt"

// MetricsConfig 指标配置
//
// 启用后在独立的 HTTP 端点暴露 Prometheus 指标。
type MetricsConfig struct {
	// Enable 是否启用指标端点
	Enable bool `json:"enable"`

	// Listen 指标端点监听地址
	Listen string `json:"listen"`
}

// NewMetricsConfig 创建默认指标配置
func NewMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enable: false,
		Listen: "127.0.0.1:9464",
	}
}

// Validate 验证指标配置
func (c *MetricsConfig) Validate() error {
	if c.Enable && c.Listen == "" {
		return fmt.Errorf("config: metrics listen address is required when enabled")
	}
	return nil
}
