package base

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"sort"
)

// 消息格式
/*
	|       0       |       1       |       2       |       3       |
	|7 6 5 4 3 2 1 0|7 6 5 4 3 2 1 0|7 6 5 4 3 2 1 0|7 6 5 4 3 2 1 0|
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|Ver| T |  TKL  |      Code     |          Message ID           |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|   Token (if any, TKL bytes) ...
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|   Options (if any) ...
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|1 1 1 1 1 1 1 1|    Payload (if any) ...
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/

// 消息类型
const (
	CON = 0
	NON = 1
	ACK = 2
	RST = 3
)

var typeNames = [4]string{
	CON: "CON",
	NON: "NON",
	ACK: "ACK",
	RST: "RST",
}

// TypeName 返回消息类型名称.
func TypeName(t uint8) string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Request Codes
const (
	GET    = 0<<5 | 1
	POST   = 0<<5 | 2
	PUT    = 0<<5 | 3
	DELETE = 0<<5 | 4
)

// Responses Codes
const (
	Created  = 2<<5 | 1
	Deleted  = 2<<5 | 2
	Valid    = 2<<5 | 3
	Changed  = 2<<5 | 4
	Content  = 2<<5 | 5
	Continue = 2<<5 | 31

	BadRequest               = 4<<5 | 0
	Unauthorized             = 4<<5 | 1
	BadOption                = 4<<5 | 2
	Forbidden                = 4<<5 | 3
	NotFound                 = 4<<5 | 4
	MethodNotAllowed         = 4<<5 | 5
	NotAcceptable            = 4<<5 | 6
	RequestEntityIncomplete  = 4<<5 | 8
	PreconditionFailed       = 4<<5 | 12
	RequestEntityTooLarge    = 4<<5 | 13
	UnsupportedContentFormat = 4<<5 | 15

	InternalServerError  = 5<<5 | 0
	NotImplemented       = 5<<5 | 1
	BadGateway           = 5<<5 | 2
	ServiceUnavailable   = 5<<5 | 3
	GatewayTimeout       = 5<<5 | 4
	ProxyingNotSupported = 5<<5 | 5
)

var codeNames = map[uint8]string{
	GET:                      "GET",
	POST:                     "POST",
	PUT:                      "PUT",
	DELETE:                   "DELETE",
	Created:                  "Created",
	Deleted:                  "Deleted",
	Valid:                    "Valid",
	Changed:                  "Changed",
	Content:                  "Content",
	Continue:                 "Continue",
	BadRequest:               "BadRequest",
	Unauthorized:             "Unauthorized",
	BadOption:                "BadOption",
	Forbidden:                "Forbidden",
	NotFound:                 "NotFound",
	MethodNotAllowed:         "MethodNotAllowed",
	NotAcceptable:            "NotAcceptable",
	RequestEntityIncomplete:  "RequestEntityIncomplete",
	PreconditionFailed:       "PreconditionFailed",
	RequestEntityTooLarge:    "RequestEntityTooLarge",
	UnsupportedContentFormat: "UnsupportedContentFormat",
	InternalServerError:      "InternalServerError",
	NotImplemented:           "NotImplemented",
	BadGateway:               "BadGateway",
	ServiceUnavailable:       "ServiceUnavailable",
	GatewayTimeout:           "GatewayTimeout",
	ProxyingNotSupported:     "ProxyingNotSupported",
}

// CodeName 返回"c.dd Name"形式的状态码名称.
func CodeName(c uint8) string {
	if name, ok := codeNames[c]; ok {
		return fmt.Sprintf("%d.%02d %s", c>>5, c&0x1f, name)
	}
	return fmt.Sprintf("%d.%02d", c>>5, c&0x1f)
}

// Option COAP消息选项
type Option struct {
	ID    uint16
	Value interface{}
}

// Message COAP消息
type Message struct {
	Type      uint8
	Code      uint8
	MessageID uint16
	Token     string
	Options   []Option
	Payload   []byte
}

func (m Message) String() string {
	if len(m.Token) <= 0 {
		return fmt.Sprintf("%s,%s,%d", TypeName(m.Type), CodeName(m.Code), m.MessageID)
	}
	return fmt.Sprintf("%s,%s,%d,%x", TypeName(m.Type), CodeName(m.Code), m.MessageID, m.Token)
}

func (m *Message) AddOption(id uint16, v interface{}) {
	m.Options = append(m.Options, Option{ID: id, Value: v})
}

func (m *Message) DelOption(id uint16) {
	options := make([]Option, 0, len(m.Options))
	for _, o := range m.Options {
		if o.ID != id {
			options = append(options, o)
		}
	}
	m.Options = options
}

func (m *Message) SetOption(id uint16, v interface{}) {
	m.DelOption(id)
	m.AddOption(id, v)
}

func (m *Message) GetOption(id uint16) interface{} {
	for _, o := range m.Options {
		if o.ID == id {
			return o.Value
		}
	}
	return nil
}

func (m *Message) GetOptions(id uint16) (values []interface{}) {
	for _, o := range m.Options {
		if o.ID == id {
			values = append(values, o.Value)
		}
	}
	return values
}

func (m *Message) Marshal() ([]byte, error) {
	if len(m.Token) > 8 {
		return nil, formatErrorf("token length %d", len(m.Token))
	}

	var buf bytes.Buffer

	// header
	buf.WriteByte(1<<6 | (m.Type&0x3)<<4 | uint8(len(m.Token)))
	buf.WriteByte(m.Code)
	binary.Write(&buf, binary.BigEndian, m.MessageID)

	// token
	buf.WriteString(m.Token)

	// options
	sort.SliceStable(m.Options, func(i, j int) bool {
		return m.Options[i].ID < m.Options[j].ID
	})
	var prev uint16
	for _, opt := range m.Options {
		data, err := optionValueToBytes(opt.Value)
		if err != nil {
			return nil, err
		}
		if err = encodeOption(&buf, uint32(opt.ID-prev), data); err != nil {
			return nil, err
		}
		prev = opt.ID
	}

	// payload
	if len(m.Payload) > 0 {
		buf.WriteByte(0xff)
		buf.Write(m.Payload)
	}

	return buf.Bytes(), nil
}

// Unmarshal 解析消息.
//
// 格式错误返回的error实现了MessageFormatError接口; 若请求中含有无法识别的
// critical选项, 消息其余部分照常解析, 返回的error实现了BadOptionsError接口.
func (m *Message) Unmarshal(data []byte) error {
	if len(data) < 4 {
		return formatErrorf("short packet")
	}
	if ver := data[0] >> 6; ver != 1 {
		return formatErrorf("version %d", ver)
	}

	m.Type = (data[0] >> 4) & 0x3
	m.Code = data[1]
	m.MessageID = binary.BigEndian.Uint16(data[2:4])

	// token
	tkl := int(data[0] & 0x0f)
	if tkl > 8 {
		return formatErrorf("token length %d", tkl)
	}
	data = data[4:]
	if len(data) < tkl {
		return formatErrorf("truncated token")
	}
	m.Token = string(data[:tkl])
	data = data[tkl:]

	// options
	var prev uint16
	var unrecognized []uint16
	counts := make(map[uint16]int)
	for len(data) > 0 {
		if data[0] == 0xff {
			data = data[1:]
			if len(data) == 0 {
				return formatErrorf("payload marker without payload")
			}
			break
		}
		delta, value, n, err := decodeOption(data)
		if err != nil {
			return err
		}
		data = data[n:]
		id := prev + uint16(delta)
		prev = id
		counts[id]++
		if !recognize(id, value, counts[id]) {
			if critical(id) {
				unrecognized = append(unrecognized, id)
			}
			continue
		}
		m.Options = append(m.Options, Option{ID: id, Value: bytesToOptionValue(id, value)})
	}

	// payload
	if len(data) > 0 {
		m.Payload = append([]byte(nil), data...)
	}

	if len(unrecognized) > 0 && m.Code != 0 && m.Code>>5 == 0 {
		return badOptionsError{ids: unrecognized}
	}
	return nil
}

func encodeUint8(v uint8) []byte {
	return []byte{v}
}

func encodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func encodeUint24(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b[1:]
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func encodeUintVariant(v uint32) []byte {
	switch {
	case v == 0:
		return nil
	case v < 1<<8:
		return encodeUint8(uint8(v))
	case v < 1<<16:
		return encodeUint16(uint16(v))
	case v < 1<<24:
		return encodeUint24(v)
	default:
		return encodeUint32(v)
	}
}

func decodeUintVariant(b []byte) uint32 {
	if len(b) > 4 {
		b = b[len(b)-4:]
	}
	data := make([]byte, 4)
	copy(data[4-len(b):], b)
	return binary.BigEndian.Uint32(data)
}

func optionValueToBytes(v interface{}) ([]byte, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(tv), nil
	case []byte:
		return tv, nil
	case struct{}:
		return nil, nil
	}

	var u uint32
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		u = uint32(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u = uint32(rv.Uint())
	default:
		return nil, fmt.Errorf("optionValueToBytes: unsupport type(%s)", rv.Type())
	}
	return encodeUintVariant(u), nil
}

func bytesToOptionValue(id uint16, buf []byte) interface{} {
	switch optionDefs[id].Format {
	case EmptyValue:
		return struct{}{}
	case UintValue:
		return decodeUintVariant(buf)
	case StringValue:
		return string(buf)
	default:
		return append([]byte{}, buf...)
	}
}

// 选项格式
/*
	 7   6   5   4   3   2   1   0
	+---------------+---------------+
	|  Option Delta | Option Length |   1 byte
	+---------------+---------------+
	/         Option Delta          /   0-2 bytes
	\          (extended)           \
	+-------------------------------+
	/         Option Length         /   0-2 bytes
	\          (extended)           \
	+-------------------------------+
	/         Option Value          /   0 or more bytes
	+-------------------------------+
*/

func encodeOption(buf *bytes.Buffer, delta uint32, value []byte) error {
	high, dext, err := optionNibble(delta)
	if err != nil {
		return err
	}
	low, lext, err := optionNibble(uint32(len(value)))
	if err != nil {
		return err
	}
	buf.WriteByte(high<<4 | low)
	buf.Write(dext)
	buf.Write(lext)
	buf.Write(value)
	return nil
}

func optionNibble(v uint32) (uint8, []byte, error) {
	switch {
	case v < 13:
		return uint8(v), nil, nil
	case v < 269:
		return 13, encodeUint8(uint8(v - 13)), nil
	case v < 269+65536:
		return 14, encodeUint16(uint16(v - 269)), nil
	}
	return 0, nil, fmt.Errorf("encode option: invalid header(%d)", v)
}

func decodeOption(data []byte) (delta uint32, value []byte, n int, err error) {
	flag := data[0]
	n = 1
	if delta, n, err = decodeNibble(data, n, uint32(flag>>4)); err != nil {
		return 0, nil, 0, err
	}
	length, n, err := decodeNibble(data, n, uint32(flag&0x0f))
	if err != nil {
		return 0, nil, 0, err
	}
	if uint32(len(data)-n) < length {
		return 0, nil, 0, formatErrorf("truncated option value")
	}
	value = data[n : n+int(length)]
	return delta, value, n + int(length), nil
}

func decodeNibble(data []byte, n int, h uint32) (uint32, int, error) {
	switch h {
	case 13:
		if len(data) < n+1 {
			return 0, 0, formatErrorf("truncated option header")
		}
		return 13 + uint32(data[n]), n + 1, nil
	case 14:
		if len(data) < n+2 {
			return 0, 0, formatErrorf("truncated option header")
		}
		return 269 + uint32(binary.BigEndian.Uint16(data[n:])), n + 2, nil
	case 15:
		return 0, 0, formatErrorf("reserved option nibble")
	}
	return h, n, nil
}
