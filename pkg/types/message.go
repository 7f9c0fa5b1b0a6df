package types

import "bytes"

// ============================================================================
//                              Message - 用户消息
// ============================================================================

// Message 用户层消息
//
// Topic 为协议级命名空间，Type 为该命名空间内的消息种类，
// 两级路由键共同决定分发到哪个处理器。Payload 为任意可序列化值，
// 可缺省（nil）。
type Message struct {
	Topic   string
	Type    string
	Payload any
}

// ============================================================================
//                              SerializedMessage - 线上消息
// ============================================================================

// SerializedMessage 序列化后的消息（线上形式）
//
// 负载为序列化后的字节，可能为空。相等性按原始字节比较。
type SerializedMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload []byte `json:"payload,omitempty"`
}

// HasPayload 检查是否携带负载
func (m SerializedMessage) HasPayload() bool {
	return len(m.Payload) > 0
}

// Equal 判断两条消息是否相等
func (m SerializedMessage) Equal(other SerializedMessage) bool {
	return m.Topic == other.Topic &&
		m.Type == other.Type &&
		bytes.Equal(m.Payload, other.Payload)
}

// ============================================================================
//                              Package - 传输包
// ============================================================================

// PackageMetadata 包元数据
//
// 与消息本体分离的路由与关联信息。SessionID 为 0 表示无会话
// （单向消息），序列化时省略。
type PackageMetadata struct {
	// AdvertisedPort 发送方宣告的监听端口
	AdvertisedPort int `json:"advertisedPort"`

	// SessionID 会话关联 ID（0 表示无会话）
	SessionID int64 `json:"sessionId,omitempty"`

	// Stage 会话阶段
	Stage Stage `json:"stage"`
}

// HasSession 检查是否携带会话 ID
func (m PackageMetadata) HasSession() bool {
	return m.SessionID != 0
}

// Package 完整的线上传输单元
//
// 消息与元数据作为整体序列化并压缩后上线。
type Package struct {
	Message  SerializedMessage `json:"message"`
	Metadata PackageMetadata   `json:"metadata"`
}
