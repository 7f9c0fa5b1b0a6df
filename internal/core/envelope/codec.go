package envelope

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/dep2p/go-courier/pkg/types"
)

// ============================================================================
//                              线缆编解码
// ============================================================================

// EncodePackage 将包编码为线缆字节（JSON + deflate）
func EncodePackage(pkg *types.Package) ([]byte, error) {
	raw, err := json.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("encode package: %w", err)
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("encode package: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("encode package: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encode package: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBounded 编码包并校验大小上限
//
// 超限返回 *types.PackageTooLargeError，包不会被发送。
func EncodeBounded(pkg *types.Package, maxSize int) ([]byte, error) {
	data, err := EncodePackage(pkg)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && len(data) > maxSize {
		return nil, &types.PackageTooLargeError{Size: len(data), Limit: maxSize}
	}
	return data, nil
}

// DecodePackage 从线缆字节还原包
//
// 解压或反序列化失败返回 *types.DecodeError，损坏的包由调用方
// 丢弃，不中断接收循环。
func DecodePackage(data []byte) (*types.Package, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, types.NewDecodeError("inflate", err)
	}
	var pkg types.Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, types.NewDecodeError("unmarshal", err)
	}
	return &pkg, nil
}

// ============================================================================
//                              流式分帧
// ============================================================================

// WriteFrame 将编码后的包写入流（4 字节大端长度前缀）
func WriteFrame(w io.Writer, data []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame 从流中读取一个完整帧
//
// 帧长超过 maxSize 时返回 *types.PackageTooLargeError，
// 此时流位置已失效，调用方应关闭连接。
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if maxSize > 0 && int(size) > maxSize {
		return nil, &types.PackageTooLargeError{Size: int(size), Limit: maxSize}
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
