// Package gateway 实现网关数据包的编解码, 发送端Client和接收端Assembler.
package gateway

import (
	"time"

	"github.com/pkg/errors"
)

// PacketVersion 数据包版本
const PacketVersion = 2

// DeviceIDLen 设备标识长度
const DeviceIDLen = 6

// MaxPacketSize 非块传输请求的数据包上限
const MaxPacketSize = 512

// Header 数据包头
type Header struct {
	Version    uint32 `cbor:"1,keyasint"`
	ID         []byte `cbor:"2,keyasint"`
	DeviceType string `cbor:"3,keyasint"`
	SeqNo      uint32 `cbor:"4,keyasint"`
	Sec        int64  `cbor:"5,keyasint"`
	Usec       int64  `cbor:"6,keyasint"`
}

// SetTime 设置时间戳.
func (h *Header) SetTime(t time.Time) {
	if t.IsZero() {
		h.Sec, h.Usec = 0, 0
		return
	}
	h.Sec = t.Unix()
	h.Usec = int64(t.Nanosecond() / 1000)
}

// Time 返回时间戳, 未设置时返回零值.
func (h *Header) Time() time.Time {
	if h.Sec == 0 && h.Usec == 0 {
		return time.Time{}
	}
	return time.Unix(h.Sec, h.Usec*1000)
}

// Packet 网关数据包, Data和Discovery二选一.
type Packet struct {
	Header    Header `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Discovery string `cbor:"3,keyasint,omitempty"`
}

// IsDiscovery 报告是否为发现包.
func (p *Packet) IsDiscovery() bool {
	return p.Discovery != ""
}

// Codec 数据包编解码器
type Codec interface {
	Name() string

	// Append 将p编码后追加到dst
	Append(dst []byte, p *Packet) ([]byte, error)

	Unmarshal(data []byte, p *Packet) error
}

// CodecByName 按名称返回编解码器: "proto" 或 "cbor".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "proto", "protobuf", "":
		return ProtoCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	}
	return nil, errors.Errorf("unknown codec %q", name)
}
