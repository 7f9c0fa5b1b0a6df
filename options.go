package courier

import (
	"fmt"
	"time"

	"github.com/dep2p/go-courier/config"
)

// Option 用户配置选项函数
type Option func(*options) error

// bindingChoice 显式选择的一种绑定
type bindingChoice struct {
	name string
	port int
}

// options 内部选项结构
type options struct {
	// 完整配置（WithConfig / WithConfigFile 二选一）
	cfg     *config.Config
	cfgFile string

	// 监听主机
	host string

	// 显式选择的绑定集合。非空时取代默认集合，
	// 第一个成员同时决定默认拨号绑定。
	bindings []bindingChoice
	wsPath   string

	// 传输配置
	dial           string
	maxPackageSize int

	// 会话配置
	responseTimeout time.Duration

	// 指标配置
	metricsListen string
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{}
}

// toConfig 归并选项为统一配置
func (o *options) toConfig() (*config.Config, error) {
	var cfg *config.Config
	switch {
	case o.cfg != nil && o.cfgFile != "":
		return nil, fmt.Errorf("WithConfig 与 WithConfigFile 不能同时使用")
	case o.cfg != nil:
		cfg = o.cfg
	case o.cfgFile != "":
		loaded, err := config.LoadFile(o.cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		cfg = loaded
	default:
		cfg = config.NewConfig()
	}

	// 覆盖: 监听主机
	if o.host != "" {
		cfg.Host = o.host
	}

	// 覆盖: 绑定集合
	// 用户点名的绑定取代默认集合，未点名的一律关闭。
	if len(o.bindings) > 0 {
		cfg.Transport.EnableUDP = false
		cfg.Transport.EnableTCP = false
		cfg.Transport.EnableWebSocket = false
		cfg.Transport.EnableQUIC = false

		for _, b := range o.bindings {
			switch b.name {
			case "udp":
				cfg.Transport.EnableUDP = true
				cfg.Transport.UDP.Port = b.port
			case "tcp":
				cfg.Transport.EnableTCP = true
				cfg.Transport.TCP.Port = b.port
			case "ws":
				cfg.Transport.EnableWebSocket = true
				cfg.Transport.WebSocket.Port = b.port
				if o.wsPath != "" {
					cfg.Transport.WebSocket.Path = o.wsPath
				}
			case "quic":
				cfg.Transport.EnableQUIC = true
				cfg.Transport.QUIC.Port = b.port
			}
		}

		if o.dial == "" {
			o.dial = o.bindings[0].name
		}
	}

	// 覆盖: 拨号绑定
	if o.dial != "" {
		cfg.Transport.Dial = o.dial
	}

	// 覆盖: 包大小上限（作用于所有绑定）
	if o.maxPackageSize > 0 {
		cfg.Transport.UDP.MaxPackageSize = o.maxPackageSize
		cfg.Transport.TCP.MaxPackageSize = o.maxPackageSize
		cfg.Transport.WebSocket.MaxPackageSize = o.maxPackageSize
		cfg.Transport.QUIC.MaxPackageSize = o.maxPackageSize
	}

	// 覆盖: 响应超时
	if o.responseTimeout > 0 {
		cfg.Session.ResponseTimeout = config.Duration(o.responseTimeout)
	}

	// 覆盖: 指标导出
	if o.metricsListen != "" {
		cfg.Metrics.Enable = true
		cfg.Metrics.Listen = o.metricsListen
	}

	return cfg, nil
}

// ============================================================================
//                              配置来源选项
// ============================================================================

// WithConfig 使用完整的统一配置
//
// 与 WithConfigFile 互斥。其余选项仍会在其上覆盖生效。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("配置不能为空")
		}
		o.cfg = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
//
//	courier.New(courier.WithConfigFile("~/.courier/config.json"))
func WithConfigFile(path string) Option {
	return func(o *options) error {
		if path == "" {
			return fmt.Errorf("配置文件路径不能为空")
		}
		o.cfgFile = path
		return nil
	}
}

// ============================================================================
//                              网络选项
// ============================================================================

// WithHost 设置本地监听主机
//
// 同时决定发往对端的宣告地址的主机部分。
func WithHost(host string) Option {
	return func(o *options) error {
		if host == "" {
			return fmt.Errorf("监听主机不能为空")
		}
		o.host = host
		return nil
	}
}

// WithUDP 启用 UDP 绑定
//
// port 为 0 时由系统分配端口。显式选择任一绑定后，
// 未被选择的绑定（包括默认的 UDP）一律关闭。
func WithUDP(port int) Option {
	return func(o *options) error {
		o.bindings = append(o.bindings, bindingChoice{name: "udp", port: port})
		return nil
	}
}

// WithTCP 启用 TCP 绑定
func WithTCP(port int) Option {
	return func(o *options) error {
		o.bindings = append(o.bindings, bindingChoice{name: "tcp", port: port})
		return nil
	}
}

// WithWebSocket 启用 WebSocket 绑定
//
// path 为空时使用默认握手路径。
func WithWebSocket(port int, path string) Option {
	return func(o *options) error {
		o.bindings = append(o.bindings, bindingChoice{name: "ws", port: port})
		o.wsPath = path
		return nil
	}
}

// WithQUIC 启用 QUIC 绑定
func WithQUIC(port int) Option {
	return func(o *options) error {
		o.bindings = append(o.bindings, bindingChoice{name: "quic", port: port})
		return nil
	}
}

// WithDial 设置出站拨号使用的绑定
//
// 默认使用第一个被显式选择的绑定；全部走默认配置时为 "udp"。
func WithDial(binding string) Option {
	return func(o *options) error {
		if binding == "" {
			return fmt.Errorf("拨号绑定不能为空")
		}
		o.dial = binding
		return nil
	}
}

// WithMaxPackageSize 设置包大小上限（字节）
//
// 作用于所有启用的绑定。超限的包在编码阶段被拒绝，
// 不会写入任何字节。
func WithMaxPackageSize(size int) Option {
	return func(o *options) error {
		if size <= 0 {
			return fmt.Errorf("包大小上限必须大于 0")
		}
		o.maxPackageSize = size
		return nil
	}
}

// ============================================================================
//                              会话选项
// ============================================================================

// WithResponseTimeout 设置等待响应的默认超时
//
// SendAndReceive 在此时限内未收到响应即返回 ErrResponseTimeout。
// 调用方传入的 ctx 截止时间更早时以 ctx 为准。
func WithResponseTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("响应超时必须大于 0")
		}
		o.responseTimeout = timeout
		return nil
	}
}

// ============================================================================
//                              指标选项
// ============================================================================

// WithMetrics 启用 Prometheus 指标导出
//
//	courier.New(courier.WithMetrics("127.0.0.1:9464"))
func WithMetrics(listen string) Option {
	return func(o *options) error {
		if listen == "" {
			return fmt.Errorf("指标监听地址不能为空")
		}
		o.metricsListen = listen
		return nil
	}
}
