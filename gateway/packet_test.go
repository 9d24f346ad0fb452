package gateway

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

var testDeviceID = []byte{1, 2, 3, 4, 5, 6}

func TestProtoCodecWireFormat(t *testing.T) {
	p := Packet{
		Header: Header{Version: 2, ID: testDeviceID, DeviceType: "t", SeqNo: 7, Sec: 1, Usec: 2},
		Data:   []byte{0xaa},
	}
	b, err := ProtoCodec{}.Append(nil, &p)
	require.NoError(t, err)

	want := []byte{
		0x0a, 0x13,
		0x08, 0x02,
		0x12, 0x06, 1, 2, 3, 4, 5, 6,
		0x1a, 0x01, 't',
		0x20, 0x07,
		0x28, 0x01,
		0x30, 0x02,
		0x12, 0x01, 0xaa,
	}
	assert.Equal(t, want, b)
}

func TestCodecs(t *testing.T) {
	ts := time.Unix(1700000000, 123456000)
	data := Packet{Header: Header{Version: PacketVersion, ID: testDeviceID, DeviceType: "sensor", SeqNo: 300}, Data: []byte("hello")}
	data.Header.SetTime(ts)
	discovery := Packet{Header: Header{Version: PacketVersion, ID: testDeviceID, SeqNo: 1}, Discovery: "fd00::1"}

	for _, c := range []Codec{ProtoCodec{}, CBORCodec{}} {
		for _, p := range []Packet{data, discovery} {
			b, err := c.Append([]byte("prefix"), &p)
			require.NoError(t, err, c.Name())
			require.True(t, bytes.HasPrefix(b, []byte("prefix")), c.Name())

			var got Packet
			require.NoError(t, c.Unmarshal(b[len("prefix"):], &got), c.Name())
			assert.Equal(t, p, got, c.Name())
		}
	}

	var got Packet
	require.NoError(t, ProtoCodec{}.Unmarshal(mustAppend(t, ProtoCodec{}, &data), &got))
	assert.Equal(t, ts, got.Header.Time())
	assert.False(t, got.IsDiscovery())
}

func mustAppend(t *testing.T, c Codec, p *Packet) []byte {
	t.Helper()
	b, err := c.Append(nil, p)
	require.NoError(t, err)
	return b
}

func TestProtoCodecUnknownField(t *testing.T) {
	p := Packet{Header: Header{Version: PacketVersion, SeqNo: 3}, Data: []byte{1}}
	b := mustAppend(t, ProtoCodec{}, &p)
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)

	var got Packet
	require.NoError(t, ProtoCodec{}.Unmarshal(b, &got))
	assert.Equal(t, p, got)
}

func TestProtoCodecTruncated(t *testing.T) {
	p := Packet{Header: Header{Version: PacketVersion, ID: testDeviceID}, Data: []byte("abc")}
	b := mustAppend(t, ProtoCodec{}, &p)

	var got Packet
	assert.Error(t, ProtoCodec{}.Unmarshal(b[:len(b)-1], &got))
}

func TestCBORCodecDeterministic(t *testing.T) {
	p := Packet{Header: Header{Version: PacketVersion, ID: testDeviceID, DeviceType: "x", SeqNo: 9}, Data: []byte{1, 2}}
	a := mustAppend(t, CBORCodec{}, &p)
	b := mustAppend(t, CBORCodec{}, &p)
	assert.Equal(t, a, b)

	var got Packet
	assert.Error(t, CBORCodec{}.Unmarshal([]byte{0xff}, &got))
}

func TestHeaderTime(t *testing.T) {
	var h Header
	h.SetTime(time.Time{})
	assert.True(t, h.Time().IsZero())

	ts := time.Unix(10, 5000)
	h.SetTime(ts)
	assert.Equal(t, int64(10), h.Sec)
	assert.Equal(t, int64(5), h.Usec)
	assert.True(t, ts.Equal(h.Time()))
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("proto")
	require.NoError(t, err)
	assert.Equal(t, "proto", c.Name())

	c, err = CodecByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, "cbor", c.Name())

	_, err = CodecByName("json")
	assert.Error(t, err)
}
