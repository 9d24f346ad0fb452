package coap

import "github.com/nrfthread/coapblock/internal/stack/base"

// Code 消息状态码, 高3位为class, 低5位为detail.
type Code uint8

// Request Codes
const (
	GET    Code = base.GET
	POST   Code = base.POST
	PUT    Code = base.PUT
	DELETE Code = base.DELETE
)

// Responses Codes
const (
	Created                  Code = base.Created
	Deleted                  Code = base.Deleted
	Valid                    Code = base.Valid
	Changed                  Code = base.Changed
	Content                  Code = base.Content
	Continue                 Code = base.Continue
	BadRequest               Code = base.BadRequest
	Unauthorized             Code = base.Unauthorized
	BadOption                Code = base.BadOption
	Forbidden                Code = base.Forbidden
	NotFound                 Code = base.NotFound
	MethodNotAllowed         Code = base.MethodNotAllowed
	NotAcceptable            Code = base.NotAcceptable
	RequestEntityIncomplete  Code = base.RequestEntityIncomplete
	PreconditionFailed       Code = base.PreconditionFailed
	RequestEntityTooLarge    Code = base.RequestEntityTooLarge
	UnsupportedContentFormat Code = base.UnsupportedContentFormat
	InternalServerError      Code = base.InternalServerError
	NotImplemented           Code = base.NotImplemented
	BadGateway               Code = base.BadGateway
	ServiceUnavailable       Code = base.ServiceUnavailable
	GatewayTimeout           Code = base.GatewayTimeout
	ProxyingNotSupported     Code = base.ProxyingNotSupported
)

// Class 返回 code >> 5.
func (c Code) Class() uint8 {
	return uint8(c) >> 5
}

// Detail 返回 code & 0x1f.
func (c Code) Detail() uint8 {
	return uint8(c) & 0x1f
}

func (c Code) String() string {
	return base.CodeName(uint8(c))
}

// Type 消息类型
type Type uint8

const (
	Confirmable     Type = base.CON
	NonConfirmable  Type = base.NON
	Acknowledgement Type = base.ACK
	Reset           Type = base.RST
)

func (t Type) String() string {
	return base.TypeName(uint8(t))
}

type OptionID uint16

func (id OptionID) String() string {
	return base.OptionName(uint16(id))
}

// Option IDs
const (
	IfMatch       OptionID = base.IfMatch
	URIHost       OptionID = base.URIHost
	ETag          OptionID = base.ETag
	IfNoneMatch   OptionID = base.IfNoneMatch
	Observe       OptionID = base.Observe
	URIPort       OptionID = base.URIPort
	LocationPath  OptionID = base.LocationPath
	URIPath       OptionID = base.URIPath
	ContentFormat OptionID = base.ContentFormat
	MaxAge        OptionID = base.MaxAge
	URIQuery      OptionID = base.URIQuery
	Accept        OptionID = base.Accept
	LocationQuery OptionID = base.LocationQuery
	Block2        OptionID = base.Block2
	Block1        OptionID = base.Block1
	Size2         OptionID = base.Size2
	ProxyURI      OptionID = base.ProxyURI
	ProxyScheme   OptionID = base.ProxyScheme
	Size1         OptionID = base.Size1
)

// BlockSzx 块大小指数, 块大小为 1 << (szx + 4).
type BlockSzx uint8

const (
	BlockSzx16 BlockSzx = iota
	BlockSzx32
	BlockSzx64
	BlockSzx128
	BlockSzx256
	BlockSzx512
	BlockSzx1024

	MaxBlockSzx = BlockSzx1024
)

// Size 返回块大小.
func (szx BlockSzx) Size() int {
	return 1 << (uint(szx) + 4)
}

// SzxForSize 返回不大于size的最大块大小指数.
func SzxForSize(size int) BlockSzx {
	if size < 0 {
		size = 0
	}
	return BlockSzx(base.SizeToSzx(uint32(size)))
}

// BlockOption Block1选项内容
type BlockOption struct {
	Num  uint32
	More bool
	Szx  BlockSzx
}

// Size 返回块大小.
func (o BlockOption) Size() int {
	return o.Szx.Size()
}

// Value 返回选项编码值 num<<4 | more<<3 | szx.
func (o BlockOption) Value() uint32 {
	return base.BlockOption{Num: o.Num, More: o.More, Szx: uint32(o.Szx)}.Value()
}

// ParseBlockOption 解析Block选项编码值.
func ParseBlockOption(v uint32) BlockOption {
	b := base.ParseBlockOption(v)
	return BlockOption{Num: b.Num, More: b.More, Szx: BlockSzx(b.Szx)}
}
