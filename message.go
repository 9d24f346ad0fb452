package coap

import (
	"crypto/rand"
	"encoding/binary"
	"net"

	"github.com/pkg/errors"

	"github.com/nrfthread/coapblock/internal/stack/base"
)

// Message 由Transport分配的消息.
//
// 构造顺序与线上格式一致: Init, 令牌, 选项, SetPayloadMarker, Append.
// 设置负载标记后不能再添加选项.
type Message struct {
	msg    base.Message
	marker bool
	limit  int
	pool   *messagePool
}

// MessageInfo 响应的来源信息
type MessageInfo struct {
	PeerAddr  net.Addr
	LocalAddr net.Addr
}

// NewMessage 创建一个不属于任何Transport的消息, limit为负载容量, <=0时使用默认值.
func NewMessage(limit int) *Message {
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	return &Message{limit: limit}
}

func wrapMessage(m base.Message) *Message {
	return &Message{msg: m, marker: len(m.Payload) > 0, limit: len(m.Payload)}
}

// Init 重置消息并设置类型和状态码.
func (m *Message) Init(typ Type, code Code) {
	m.msg = base.Message{Type: uint8(typ), Code: uint8(code)}
	m.marker = false
}

// GenerateToken 生成n字节的随机令牌, n的范围为[0, 8].
func (m *Message) GenerateToken(n int) error {
	if n < 0 || n > 8 {
		return errors.Wrapf(ErrInvalidArgs, "token length %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return errors.Wrap(err, "generate token")
	}
	m.msg.Token = string(b)
	return nil
}

// SetToken 设置令牌.
func (m *Message) SetToken(token []byte) error {
	if len(token) > 8 {
		return errors.Wrapf(ErrInvalidArgs, "token length %d", len(token))
	}
	m.msg.Token = string(token)
	return nil
}

// AppendOption 添加选项, value可以是整数, string或[]byte.
func (m *Message) AppendOption(id OptionID, value interface{}) error {
	if m.marker {
		return errors.Wrapf(ErrInvalidArgs, "append %s after payload marker", id)
	}
	m.msg.AddOption(uint16(id), value)
	return nil
}

// AppendURIPathOptions 按'/'拆分path并逐段添加Uri-Path选项.
func (m *Message) AppendURIPathOptions(path string) error {
	for _, seg := range splitPath(path) {
		if len(seg) > 255 {
			return errors.Wrapf(ErrInvalidArgs, "uri path segment length %d", len(seg))
		}
		if err := m.AppendOption(URIPath, seg); err != nil {
			return err
		}
	}
	return nil
}

// AppendBlock1Option 添加Block1选项.
func (m *Message) AppendBlock1Option(num uint32, more bool, szx BlockSzx) error {
	if szx > MaxBlockSzx || num >= 1<<20 {
		return errors.Wrapf(ErrInvalidArgs, "block1 %d/%d", num, szx)
	}
	return m.AppendOption(Block1, BlockOption{Num: num, More: more, Szx: szx}.Value())
}

// SetPayloadMarker 标记选项结束, 之后可以调用Append写入负载.
func (m *Message) SetPayloadMarker() error {
	m.marker = true
	return nil
}

// Append 将p复制到负载末尾, 超出消息容量时返回ErrNoBufs.
func (m *Message) Append(p []byte) error {
	if !m.marker {
		return errors.Wrap(ErrInvalidArgs, "append payload without marker")
	}
	if len(m.msg.Payload)+len(p) > m.limit {
		return errors.Wrapf(ErrNoBufs, "payload %d+%d exceeds %d", len(m.msg.Payload), len(p), m.limit)
	}
	m.msg.Payload = append(m.msg.Payload, p...)
	return nil
}

func (m *Message) Type() Type {
	return Type(m.msg.Type)
}

func (m *Message) Code() Code {
	return Code(m.msg.Code)
}

func (m *Message) MessageID() uint16 {
	return m.msg.MessageID
}

func (m *Message) Token() []byte {
	return []byte(m.msg.Token)
}

func (m *Message) Payload() []byte {
	return m.msg.Payload
}

// Options 返回选项的副本.
func (m *Message) Options() Options {
	return Options(m.msg.Options).clone()
}

// Option 返回第一个编号为id的选项值.
func (m *Message) Option(id OptionID) interface{} {
	return m.msg.GetOption(uint16(id))
}

// Path 返回由Uri-Path选项拼接的路径.
func (m *Message) Path() string {
	return Options(m.msg.Options).GetPath()
}

// Block1 返回Block1选项.
func (m *Message) Block1() (BlockOption, bool) {
	b, ok := base.ParseBlock1Option(m.msg)
	if !ok {
		return BlockOption{}, false
	}
	return BlockOption{Num: b.Num, More: b.More, Szx: BlockSzx(b.Szx)}, true
}

// ETag 返回ETag选项.
func (m *Message) ETag() ([]byte, bool) {
	v, ok := m.msg.GetOption(base.ETag).([]byte)
	return v, ok
}

func (m *Message) String() string {
	return m.msg.String()
}

func (m *Message) reset() {
	m.msg = base.Message{}
	m.marker = false
}

// ETagValue 将32位传输标识编码为4字节ETag.
func ETagValue(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	return b
}

// ParseETag 解码ETagValue的结果, 长度不足4字节时高位补0.
func ParseETag(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}
