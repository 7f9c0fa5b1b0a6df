package envelope

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-courier/pkg/types"
)

type greeting struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// TestSerialize_RoundTrip 测试消息序列化与反序列化
func TestSerialize_RoundTrip(t *testing.T) {
	msg := types.Message{
		Topic:   "chat",
		Type:    "greeting",
		Payload: greeting{Text: "hello", Count: 3},
	}

	sm, err := Serialize(msg)
	require.NoError(t, err)
	assert.Equal(t, "chat", sm.Topic)
	assert.Equal(t, "greeting", sm.Type)
	assert.True(t, sm.HasPayload())

	var out greeting
	require.NoError(t, Deserialize(sm, &out))
	assert.Equal(t, greeting{Text: "hello", Count: 3}, out)
}

// TestSerialize_NilPayload 测试空负载
func TestSerialize_NilPayload(t *testing.T) {
	sm, err := Serialize(types.Message{Topic: "chat", Type: "ping"})
	require.NoError(t, err)
	assert.False(t, sm.HasPayload())

	var out greeting
	err = Deserialize(sm, &out)
	assert.ErrorIs(t, err, types.ErrNoPayload)
}

// TestUnmarshal_Invalid 测试损坏负载的解码错误
func TestUnmarshal_Invalid(t *testing.T) {
	var out greeting
	err := Unmarshal([]byte("{not json"), &out)
	require.Error(t, err)

	var decErr *types.DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, "payload", decErr.Op)
}

// TestPack 测试消息与元数据的组装
func TestPack(t *testing.T) {
	pkg, err := Pack(
		types.Message{Topic: "chat", Type: "greeting", Payload: greeting{Text: "hi"}},
		types.PackageMetadata{AdvertisedPort: 9000, SessionID: 42, Stage: types.StageRequest},
	)
	require.NoError(t, err)
	assert.Equal(t, "chat", pkg.Message.Topic)
	assert.Equal(t, int64(42), pkg.Metadata.SessionID)
	assert.Equal(t, types.StageRequest, pkg.Metadata.Stage)
}

// TestEncodePackage_RoundTrip 测试包的线缆编解码
func TestEncodePackage_RoundTrip(t *testing.T) {
	pkg, err := Pack(
		types.Message{Topic: "chat", Type: "greeting", Payload: greeting{Text: "hello", Count: 7}},
		types.PackageMetadata{AdvertisedPort: 9000, SessionID: 99, Stage: types.StageResponse},
	)
	require.NoError(t, err)

	data, err := EncodePackage(pkg)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := DecodePackage(data)
	require.NoError(t, err)
	assert.Equal(t, pkg.Message, got.Message)
	assert.Equal(t, pkg.Metadata, got.Metadata)
}

// TestEncodePackage_Compresses 测试重复性负载确实被压缩
func TestEncodePackage_Compresses(t *testing.T) {
	big := bytes.Repeat([]byte("abcdefgh"), 512)
	pkg, err := Pack(
		types.Message{Topic: "bulk", Type: "blob", Payload: string(big)},
		types.PackageMetadata{AdvertisedPort: 9000, Stage: types.StageInactive},
	)
	require.NoError(t, err)

	data, err := EncodePackage(pkg)
	require.NoError(t, err)
	assert.Less(t, len(data), len(big))
}

// TestDecodePackage_Errors 测试解码错误分类
func TestDecodePackage_Errors(t *testing.T) {
	t.Run("BadDeflate", func(t *testing.T) {
		_, err := DecodePackage([]byte{0xff, 0xff, 0xff, 0xff})
		var decErr *types.DecodeError
		require.True(t, errors.As(err, &decErr))
		assert.Equal(t, "inflate", decErr.Op)
	})

	t.Run("BadJSON", func(t *testing.T) {
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		_, err = w.Write([]byte("{not json"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		_, err = DecodePackage(buf.Bytes())
		var decErr *types.DecodeError
		require.True(t, errors.As(err, &decErr))
		assert.Equal(t, "unmarshal", decErr.Op)
	})
}

// TestEncodeBounded 测试大小上限
func TestEncodeBounded(t *testing.T) {
	pkg, err := Pack(
		types.Message{Topic: "bulk", Type: "blob", Payload: strings.Repeat("0123456789", 400)},
		types.PackageMetadata{AdvertisedPort: 9000, Stage: types.StageInactive},
	)
	require.NoError(t, err)

	t.Run("WithinLimit", func(t *testing.T) {
		data, err := EncodeBounded(pkg, 64*1024)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})

	t.Run("Oversized", func(t *testing.T) {
		_, err := EncodeBounded(pkg, 16)
		var tooLarge *types.PackageTooLargeError
		require.True(t, errors.As(err, &tooLarge))
		assert.Equal(t, 16, tooLarge.Limit)
		assert.Greater(t, tooLarge.Size, tooLarge.Limit)
	})

	t.Run("NoLimit", func(t *testing.T) {
		_, err := EncodeBounded(pkg, 0)
		assert.NoError(t, err)
	})
}

// TestFrame_RoundTrip 测试流式分帧
func TestFrame_RoundTrip(t *testing.T) {
	payload := []byte("framed package bytes")

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, payload))
	assert.Equal(t, 4+len(payload), buf.Len())

	got, err := ReadFrame(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// TestReadFrame_Oversized 测试超限帧被拒绝
func TestReadFrame_Oversized(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, bytes.Repeat([]byte{0x01}, 100)))

	_, err := ReadFrame(&buf, 10)
	var tooLarge *types.PackageTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 100, tooLarge.Size)
}

// TestReadFrame_Truncated 测试被截断的帧
func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := ReadFrame(bytes.NewReader(truncated), 1024)
	assert.Error(t, err)
}
