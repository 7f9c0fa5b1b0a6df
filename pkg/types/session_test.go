package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSession_Lifecycle 测试会话阶段前进
func TestSession_Lifecycle(t *testing.T) {
	s := NewSession(42)
	require.Equal(t, int64(42), s.ID())
	require.Equal(t, StageRequest, s.Stage())

	// REQUEST → RESPONSE
	err := s.Advance()
	require.NoError(t, err)
	assert.Equal(t, StageResponse, s.Stage())

	// RESPONSE → CONSUMED
	err = s.Advance()
	require.NoError(t, err)
	assert.Equal(t, StageConsumed, s.Stage())

	// 终止阶段不可再前进
	err = s.Advance()
	assert.ErrorIs(t, err, ErrInvalidSessionState)
	assert.Equal(t, StageConsumed, s.Stage())
}

// TestSession_Inactive 测试无会话标记
func TestSession_Inactive(t *testing.T) {
	s := NewInactiveSession()
	assert.Equal(t, int64(0), s.ID())
	assert.Equal(t, StageInactive, s.Stage())

	err := s.Advance()
	assert.ErrorIs(t, err, ErrInvalidSessionState)
	assert.Equal(t, StageInactive, s.Stage())
}

// TestSession_RestoreAt 测试从元数据还原会话
func TestSession_RestoreAt(t *testing.T) {
	s := NewSessionAt(7, StageRequest)
	require.Equal(t, int64(7), s.ID())

	err := s.Advance()
	require.NoError(t, err)
	assert.Equal(t, StageResponse, s.Stage())
}

// TestStage_Terminal 测试终止阶段判定
func TestStage_Terminal(t *testing.T) {
	assert.False(t, StageRequest.IsTerminal())
	assert.False(t, StageResponse.IsTerminal())
	assert.True(t, StageConsumed.IsTerminal())
	assert.True(t, StageInactive.IsTerminal())
}
