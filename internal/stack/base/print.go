package base

import (
	"bytes"
	"fmt"
	"io"
)

// MessageStringer 将消息格式化为多行文本, 用于调试输出.
type MessageStringer struct {
	WritePayload func(w io.Writer, payload []byte)
}

func (s MessageStringer) MessageString(m Message) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\r\n", m.String())
	for _, o := range m.Options {
		switch v := o.Value.(type) {
		case []byte:
			fmt.Fprintf(&buf, "%s: %x\r\n", OptionName(o.ID), v)
		case uint32:
			if o.ID == Block1 || o.ID == Block2 {
				b := ParseBlockOption(v)
				fmt.Fprintf(&buf, "%s: %d/%t/%d\r\n", OptionName(o.ID), b.Num, b.More, b.Size())
				continue
			}
			fmt.Fprintf(&buf, "%s: %d\r\n", OptionName(o.ID), v)
		default:
			fmt.Fprintf(&buf, "%s: %v\r\n", OptionName(o.ID), v)
		}
	}
	if len(m.Payload) > 0 {
		if s.WritePayload != nil {
			s.WritePayload(&buf, m.Payload)
		} else {
			fmt.Fprintf(&buf, "<%d bytes>\r\n", len(m.Payload))
		}
	}
	return buf.String()
}
