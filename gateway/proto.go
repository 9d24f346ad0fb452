package gateway

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// 字段编号
const (
	headerVersion    protowire.Number = 1
	headerID         protowire.Number = 2
	headerDeviceType protowire.Number = 3
	headerSeqNo      protowire.Number = 4
	headerSec        protowire.Number = 5
	headerUsec       protowire.Number = 6

	packetHeader    protowire.Number = 1
	packetData      protowire.Number = 2
	packetDiscovery protowire.Number = 3
)

// ProtoCodec protobuf线格式编解码器, 与设备端nanopb生成的消息兼容.
type ProtoCodec struct{}

func (ProtoCodec) Name() string {
	return "proto"
}

func (ProtoCodec) Append(dst []byte, p *Packet) ([]byte, error) {
	h := appendHeader(nil, &p.Header)
	dst = protowire.AppendTag(dst, packetHeader, protowire.BytesType)
	dst = protowire.AppendBytes(dst, h)
	if p.Data != nil {
		dst = protowire.AppendTag(dst, packetData, protowire.BytesType)
		dst = protowire.AppendBytes(dst, p.Data)
	}
	if p.Discovery != "" {
		dst = protowire.AppendTag(dst, packetDiscovery, protowire.BytesType)
		dst = protowire.AppendString(dst, p.Discovery)
	}
	return dst, nil
}

func appendHeader(b []byte, h *Header) []byte {
	if h.Version != 0 {
		b = protowire.AppendTag(b, headerVersion, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.Version))
	}
	if len(h.ID) > 0 {
		b = protowire.AppendTag(b, headerID, protowire.BytesType)
		b = protowire.AppendBytes(b, h.ID)
	}
	if h.DeviceType != "" {
		b = protowire.AppendTag(b, headerDeviceType, protowire.BytesType)
		b = protowire.AppendString(b, h.DeviceType)
	}
	if h.SeqNo != 0 {
		b = protowire.AppendTag(b, headerSeqNo, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.SeqNo))
	}
	if h.Sec != 0 {
		b = protowire.AppendTag(b, headerSec, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.Sec))
	}
	if h.Usec != 0 {
		b = protowire.AppendTag(b, headerUsec, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.Usec))
	}
	return b
}

func (ProtoCodec) Unmarshal(data []byte, p *Packet) error {
	*p = Packet{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "packet tag")
		}
		data = data[n:]

		switch {
		case num == packetHeader && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "packet header")
			}
			if err := unmarshalHeader(v, &p.Header); err != nil {
				return err
			}
			data = data[n:]
		case num == packetData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "packet data")
			}
			p.Data = append([]byte{}, v...)
			data = data[n:]
		case num == packetDiscovery && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "packet discovery")
			}
			p.Discovery = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "packet field %d", num)
			}
			data = data[n:]
		}
	}
	return nil
}

func unmarshalHeader(data []byte, h *Header) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "header tag")
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && (num == headerVersion || num == headerSeqNo || num == headerSec || num == headerUsec):
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "header field %d", num)
			}
			switch num {
			case headerVersion:
				h.Version = uint32(v)
			case headerSeqNo:
				h.SeqNo = uint32(v)
			case headerSec:
				h.Sec = int64(v)
			case headerUsec:
				h.Usec = int64(v)
			}
			data = data[n:]
		case typ == protowire.BytesType && (num == headerID || num == headerDeviceType):
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "header field %d", num)
			}
			if num == headerID {
				h.ID = append([]byte{}, v...)
			} else {
				h.DeviceType = string(v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "header field %d", num)
			}
			data = data[n:]
		}
	}
	return nil
}
