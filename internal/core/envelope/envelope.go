// Package envelope 实现消息与包的编解码
//
// 消息负载以 JSON 序列化为字节；整包再经 JSON + deflate 压缩
// 形成线缆格式。流式绑定使用 4 字节大端长度前缀分帧。
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/dep2p/go-courier/pkg/types"
)

// Serialize 将消息序列化为可传输形式
//
// 负载以 JSON 编码，nil 负载产生空负载。
func Serialize(msg types.Message) (types.SerializedMessage, error) {
	sm := types.SerializedMessage{
		Topic: msg.Topic,
		Type:  msg.Type,
	}
	if msg.Payload == nil {
		return sm, nil
	}
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return types.SerializedMessage{}, fmt.Errorf("serialize payload: %w", err)
	}
	sm.Payload = data
	return sm, nil
}

// Deserialize 将序列化消息的负载解码到 out
//
// 空负载返回 types.ErrNoPayload，调用方可据此跳过解码。
func Deserialize(sm types.SerializedMessage, out any) error {
	if !sm.HasPayload() {
		return types.ErrNoPayload
	}
	return Unmarshal(sm.Payload, out)
}

// Unmarshal 将负载字节解码到 out
func Unmarshal(payload []byte, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return types.NewDecodeError("payload", err)
	}
	return nil
}

// Pack 将消息与元数据组装为包
func Pack(msg types.Message, meta types.PackageMetadata) (*types.Package, error) {
	sm, err := Serialize(msg)
	if err != nil {
		return nil, err
	}
	return &types.Package{Message: sm, Metadata: meta}, nil
}
