package config

import (
	"fmt"
	"strings"
	"time"
)

// TransportConfig 传输层配置
//
// 配置节点启用的传输绑定及其参数：
//   - UDP: 无连接报文传输（默认启用）
//   - TCP: 长连接流式传输
//   - WebSocket: 穿越 HTTP 基础设施的流式传输
//   - QUIC: 基于 UDP 的多路复用流式传输
//
// Dial 指定出站包走哪个绑定，必须是已启用的绑定之一。
type TransportConfig struct {
	// UDP 配置
	EnableUDP bool      `json:"enable_udp"`
	UDP       UDPConfig `json:"udp,omitempty"`

	// TCP 配置
	EnableTCP bool      `json:"enable_tcp"`
	TCP       TCPConfig `json:"tcp,omitempty"`

	// WebSocket 配置
	EnableWebSocket bool            `json:"enable_websocket"`
	WebSocket       WebSocketConfig `json:"websocket,omitempty"`

	// QUIC 配置
	EnableQUIC bool       `json:"enable_quic"`
	QUIC       QUICConfig `json:"quic,omitempty"`

	// Dial 出站绑定名（udp/tcp/ws/quic）
	Dial string `json:"dial"`

	// DialTimeout 拨号超时
	DialTimeout Duration `json:"dial_timeout"`
}

// UDPConfig UDP 绑定配置
type UDPConfig struct {
	// Port 监听端口（0 表示随机）
	Port int `json:"port"`

	// MaxPackageSize 单包大小上限（字节）
	MaxPackageSize int `json:"max_package_size"`
}

// TCPConfig TCP 绑定配置
type TCPConfig struct {
	// Port 监听端口（0 表示随机）
	Port int `json:"port"`

	// MaxPackageSize 单包大小上限（字节）
	MaxPackageSize int `json:"max_package_size"`
}

// WebSocketConfig WebSocket 绑定配置
type WebSocketConfig struct {
	// Port 监听端口（0 表示随机）
	Port int `json:"port"`

	// MaxPackageSize 单包大小上限（字节）
	MaxPackageSize int `json:"max_package_size"`

	// Path HTTP 升级路径
	Path string `json:"path"`

	// HandshakeTimeout 握手超时
	HandshakeTimeout Duration `json:"handshake_timeout"`
}

// QUICConfig QUIC 绑定配置
type QUICConfig struct {
	// Port 监听端口（0 表示随机）
	Port int `json:"port"`

	// MaxPackageSize 单包大小上限（字节）
	MaxPackageSize int `json:"max_package_size"`

	// MaxIdleTimeout 最大空闲超时
	MaxIdleTimeout Duration `json:"max_idle_timeout"`

	// KeepAlivePeriod KeepAlive 周期
	KeepAlivePeriod Duration `json:"keep_alive_period"`
}

// NewTransportConfig 创建默认传输配置
//
// 默认只启用 UDP。报文绑定默认上限 1024 字节，流式绑定 10240 字节。
func NewTransportConfig() TransportConfig {
	return TransportConfig{
		EnableUDP: true,
		UDP: UDPConfig{
			Port:           0,
			MaxPackageSize: 1024,
		},
		EnableTCP: false,
		TCP: TCPConfig{
			Port:           0,
			MaxPackageSize: 10240,
		},
		EnableWebSocket: false,
		WebSocket: WebSocketConfig{
			Port:             0,
			MaxPackageSize:   10240,
			Path:             "/courier",
			HandshakeTimeout: Duration(10 * time.Second),
		},
		EnableQUIC: false,
		QUIC: QUICConfig{
			Port:            0,
			MaxPackageSize:  10240,
			MaxIdleTimeout:  Duration(2 * time.Minute),
			KeepAlivePeriod: Duration(15 * time.Second),
		},
		Dial:        "udp",
		DialTimeout: Duration(10 * time.Second),
	}
}

// Validate 验证传输配置
func (c *TransportConfig) Validate() error {
	enabled := map[string]bool{
		"udp":  c.EnableUDP,
		"tcp":  c.EnableTCP,
		"ws":   c.EnableWebSocket,
		"quic": c.EnableQUIC,
	}

	anyEnabled := false
	for _, on := range enabled {
		anyEnabled = anyEnabled || on
	}
	if !anyEnabled {
		return fmt.Errorf("config: at least one transport binding must be enabled")
	}

	on, known := enabled[c.Dial]
	if !known {
		return fmt.Errorf("config: unknown dial binding %q", c.Dial)
	}
	if !on {
		return fmt.Errorf("config: dial binding %q is not enabled", c.Dial)
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("config: dial timeout must be positive")
	}

	if c.EnableUDP {
		if err := validatePortAndSize("udp", c.UDP.Port, c.UDP.MaxPackageSize); err != nil {
			return err
		}
	}
	if c.EnableTCP {
		if err := validatePortAndSize("tcp", c.TCP.Port, c.TCP.MaxPackageSize); err != nil {
			return err
		}
	}
	if c.EnableWebSocket {
		if err := validatePortAndSize("websocket", c.WebSocket.Port, c.WebSocket.MaxPackageSize); err != nil {
			return err
		}
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return fmt.Errorf("config: websocket path must start with /")
		}
		if c.WebSocket.HandshakeTimeout <= 0 {
			return fmt.Errorf("config: websocket handshake timeout must be positive")
		}
	}
	if c.EnableQUIC {
		if err := validatePortAndSize("quic", c.QUIC.Port, c.QUIC.MaxPackageSize); err != nil {
			return err
		}
		if c.QUIC.MaxIdleTimeout <= 0 {
			return fmt.Errorf("config: quic max idle timeout must be positive")
		}
	}

	return nil
}

// validatePortAndSize 校验端口范围与包大小上限
func validatePortAndSize(binding string, port, maxSize int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("config: %s port %d out of range", binding, port)
	}
	if maxSize <= 0 {
		return fmt.Errorf("config: %s max package size must be positive", binding)
	}
	return nil
}
