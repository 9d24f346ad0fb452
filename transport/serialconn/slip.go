package serialconn

import "github.com/golang/glog"

const (
	slipEnd    = 0xc0
	slipEsc    = 0xdb
	slipEscEnd = 0xdc
	slipEscEsc = 0xdd
)

// encode 将p编码为一个SLIP帧追加到dst, 帧首尾都带END.
func encode(dst, p []byte) []byte {
	dst = append(dst, slipEnd)
	for _, b := range p {
		switch b {
		case slipEnd:
			dst = append(dst, slipEsc, slipEscEnd)
		case slipEsc:
			dst = append(dst, slipEsc, slipEscEsc)
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, slipEnd)
}

// decoder 逐字节解码SLIP帧
type decoder struct {
	buf     []byte
	esc     bool
	discard bool
}

// feed 输入一个字节, 帧结束时返回帧内容, 空帧和错误帧被丢弃.
func (d *decoder) feed(b byte) []byte {
	if b == slipEnd {
		f := d.buf
		discard := d.discard
		d.buf, d.esc, d.discard = nil, false, false
		if discard || len(f) == 0 {
			return nil
		}
		return f
	}
	if d.discard {
		return nil
	}

	if d.esc {
		d.esc = false
		switch b {
		case slipEscEnd:
			b = slipEnd
		case slipEscEsc:
			b = slipEsc
		default:
			glog.Warningf("slip: invalid escape 0x%02x", b)
			d.discard = true
			return nil
		}
	} else if b == slipEsc {
		d.esc = true
		return nil
	}

	if len(d.buf) >= MaxFrameSize {
		glog.Warningf("slip: frame exceeds %d bytes", MaxFrameSize)
		d.discard = true
		return nil
	}
	d.buf = append(d.buf, b)
	return nil
}
