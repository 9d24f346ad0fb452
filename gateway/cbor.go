package gateway

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Sort: cbor.SortCoreDeterministic}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// CBORCodec 确定性CBOR编解码器, 以整数为键.
type CBORCodec struct{}

func (CBORCodec) Name() string {
	return "cbor"
}

func (CBORCodec) Append(dst []byte, p *Packet) ([]byte, error) {
	b, err := cborEncMode.Marshal(p)
	if err != nil {
		return dst, errors.Wrap(err, "cbor marshal")
	}
	return append(dst, b...), nil
}

func (CBORCodec) Unmarshal(data []byte, p *Packet) error {
	*p = Packet{}
	if err := cbor.Unmarshal(data, p); err != nil {
		return errors.Wrap(err, "cbor unmarshal")
	}
	return nil
}
