package base

import "io"

// BlockBuffer 按块切分的只读缓冲区.
type BlockBuffer []byte

// Read 返回第num块的选项及数据, 数据与b共享底层存储.
//
// 空缓冲区只有一个空的0号块; 块起始位置超出数据长度时返回io.EOF.
func (b BlockBuffer) Read(num, szx uint32) (BlockOption, []byte, error) {
	blen := uint64(len(b))
	size := uint64(SzxToSize(szx))
	start := uint64(num) * size
	if blen == 0 && num == 0 {
		return BlockOption{Num: 0, Szx: szx}, b[:0], nil
	}
	if start >= blen {
		return BlockOption{}, nil, io.EOF
	}
	end := start + size
	if end > blen {
		end = blen
	}
	opt := BlockOption{
		Num:  num,
		More: size < blen-start,
		Szx:  szx,
	}
	return opt, b[start:end], nil
}

// Blocks 返回缓冲区按szx切分后的块数.
func (b BlockBuffer) Blocks(szx uint32) uint32 {
	if len(b) == 0 {
		return 1
	}
	size := int(SzxToSize(szx))
	return uint32((len(b) + size - 1) / size)
}
