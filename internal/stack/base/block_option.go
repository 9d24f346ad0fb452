package base

const (
	szxMask  = 0x07
	moreMask = 1 << 3

	// MaxSzx 最大块大小指数, 对应1024字节, 7为保留值
	MaxSzx = 6
)

// BlockOption Block1/Block2选项值, 块大小为 1<<(Szx+4).
type BlockOption struct {
	Num  uint32
	More bool
	Szx  uint32
}

func ParseBlock1Option(m Message) (BlockOption, bool) {
	return getBlockOption(m, Block1)
}

func ParseBlock2Option(m Message) (BlockOption, bool) {
	return getBlockOption(m, Block2)
}

func getBlockOption(m Message, id uint16) (BlockOption, bool) {
	v, ok := m.GetOption(id).(uint32)
	if !ok {
		return BlockOption{}, false
	}
	return ParseBlockOption(v), true
}

func ParseBlockOption(value uint32) BlockOption {
	return BlockOption{
		Num:  value >> 4,
		More: (value & moreMask) == moreMask,
		Szx:  value & szxMask,
	}
}

// Size 返回块大小.
func (o BlockOption) Size() uint32 {
	return SzxToSize(o.Szx)
}

// Valid 报告Szx是否可用.
func (o BlockOption) Valid() bool {
	return o.Szx <= MaxSzx && o.Num < 1<<20
}

func (o BlockOption) Value() uint32 {
	value := o.Num << 4
	if o.More {
		value |= moreMask
	}
	value |= o.Szx & szxMask
	return value
}

// SzxToSize 返回块大小指数对应的块大小.
func SzxToSize(szx uint32) uint32 {
	return 1 << (szx + 4)
}

// SizeToSzx 返回不大于size的最大块大小指数, 范围为[0, MaxSzx].
func SizeToSzx(size uint32) uint32 {
	var szx uint32
	for szx < MaxSzx && SzxToSize(szx+1) <= size {
		szx++
	}
	return szx
}
