// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON 加载和保存配置
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Transport.EnableQUIC = true
//	cfg.Session.ResponseTimeout = config.Duration(30 * time.Second)
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
//
//	// 从文件加载
//	cfg, err := config.LoadFile("courier.json")
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Config 是 Courier 节点的完整配置结构
//
// 配置按照功能模块组织：
//   - Host: 全部绑定共用的监听地址
//   - Transport: 传输绑定（UDP/TCP/WebSocket/QUIC）
//   - Session: 请求响应会话
//   - Metrics: 指标暴露
type Config struct {
	// Host 监听地址
	Host string `json:"host"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Session 会话配置
	Session SessionConfig `json:"session"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建带默认值的配置
func NewConfig() *Config {
	return &Config{
		Host:      "127.0.0.1",
		Transport: NewTransportConfig(),
		Session:   NewSessionConfig(),
		Metrics:   NewMetricsConfig(),
	}
}

// Validate 验证配置的有效性
//
// 递归验证所有子配置。
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("config: host is required")
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return nil
}

// FromJSON 从 JSON 数据解析配置
//
// 未出现的字段保留默认值，因此片段式配置可以直接使用。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToJSON 序列化为带缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("config: marshal json: %w", err)
	}
	return data, nil
}

// LoadFile 从文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return FromJSON(data)
}

// SaveFile 将配置写入文件
func (c *Config) SaveFile(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
