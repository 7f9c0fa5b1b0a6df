package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ============================================================================
//                              Stage - 会话阶段
// ============================================================================

// Stage 会话阶段
//
// 线上只出现 REQUEST、RESPONSE、INACTIVE 三种；CONSUMED 仅存在于
// 请求方本地的会话状态机中，不会出现在包元数据里。
type Stage int

const (
	// StageUnknown 未知阶段（零值，非法）
	StageUnknown Stage = iota
	// StageRequest 请求阶段
	StageRequest
	// StageResponse 响应阶段
	StageResponse
	// StageConsumed 已消费（终止，仅本地）
	StageConsumed
	// StageInactive 无会话（终止，单向消息）
	StageInactive
)

// String 返回阶段的字符串表示
func (s Stage) String() string {
	switch s {
	case StageRequest:
		return "REQUEST"
	case StageResponse:
		return "RESPONSE"
	case StageConsumed:
		return "CONSUMED"
	case StageInactive:
		return "INACTIVE"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal 检查是否为终止阶段
func (s Stage) IsTerminal() bool {
	return s == StageConsumed || s == StageInactive
}

// ParseStage 从字符串解析阶段
func ParseStage(s string) (Stage, error) {
	switch strings.ToUpper(s) {
	case "REQUEST":
		return StageRequest, nil
	case "RESPONSE":
		return StageResponse, nil
	case "CONSUMED":
		return StageConsumed, nil
	case "INACTIVE":
		return StageInactive, nil
	default:
		return StageUnknown, fmt.Errorf("%w: %q", ErrUnknownStage, s)
	}
}

// MarshalJSON 实现 json.Marshaler 接口
func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStage(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
