package types

import (
	"fmt"
	"net"
	"strconv"
)

// ============================================================================
//                              Address - 节点地址
// ============================================================================

// Address 节点的逻辑地址（host:port）
//
// 端口为节点宣告的监听端口，而非数据包到达时的临时源端口。
// 值类型，可比较，可直接作为 map 键使用。
type Address struct {
	Host string
	Port int
}

// NewAddress 创建地址
func NewAddress(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// ParseAddress 从 "host:port" 字符串解析地址
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, fmt.Errorf("%w: port %q", ErrInvalidAddress, portStr)
	}
	return Address{Host: host, Port: port}, nil
}

// String 返回 "host:port" 形式的字符串
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// WithPort 返回替换端口后的地址副本
//
// 用于将观测到的临时地址重映射为宣告地址。
func (a Address) WithPort(port int) Address {
	return Address{Host: a.Host, Port: port}
}

// IsZero 检查是否为零值地址
func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}
