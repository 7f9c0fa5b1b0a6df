package types

import (
	"fmt"
	"sync"
)

// ============================================================================
//                              Session - 会话状态机
// ============================================================================

// Session 请求响应关联的会话
//
// 阶段只能前进：REQUEST → RESPONSE → CONSUMED；INACTIVE 在创建时
// 赋予且永不变化。CONSUMED 与 INACTIVE 为终止阶段。
type Session struct {
	id int64

	mu    sync.Mutex
	stage Stage
}

// NewSession 创建请求会话（阶段 REQUEST）
func NewSession(id int64) *Session {
	return &Session{id: id, stage: StageRequest}
}

// NewInactiveSession 创建无会话标记（ID 为 0，阶段 INACTIVE）
func NewInactiveSession() *Session {
	return &Session{stage: StageInactive}
}

// NewSessionAt 以指定阶段还原会话
//
// 用于从入站包元数据还原对端会话视图。
func NewSessionAt(id int64, stage Stage) *Session {
	return &Session{id: id, stage: stage}
}

// ID 返回会话 ID（INACTIVE 会话恒为 0）
func (s *Session) ID() int64 {
	return s.id
}

// Stage 返回当前阶段
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Advance 将会话推进到下一阶段
//
// REQUEST → RESPONSE → CONSUMED。对终止阶段调用返回
// ErrInvalidSessionState。
func (s *Session) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.stage {
	case StageRequest:
		s.stage = StageResponse
	case StageResponse:
		s.stage = StageConsumed
	default:
		return fmt.Errorf("%w: cannot advance from %s", ErrInvalidSessionState, s.stage)
	}
	return nil
}
