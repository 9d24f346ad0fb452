package coap

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestMessageBuild(t *testing.T) {
	m := NewMessage(8)
	m.Init(Confirmable, PUT)
	if err := m.GenerateToken(DefaultTokenLength); err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if got, want := len(m.Token()), DefaultTokenLength; got != want {
		t.Errorf("token length: %d != %d", got, want)
	}
	if err := m.AppendOption(ETag, ETagValue(0x01020304)); err != nil {
		t.Fatalf("append etag: %v", err)
	}
	if err := m.AppendURIPathOptions("a/b"); err != nil {
		t.Fatalf("append path: %v", err)
	}
	if err := m.AppendBlock1Option(3, true, BlockSzx64); err != nil {
		t.Fatalf("append block1: %v", err)
	}
	if err := m.Append([]byte("x")); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("append before marker: %v", err)
	}
	if err := m.SetPayloadMarker(); err != nil {
		t.Fatalf("set marker: %v", err)
	}
	if err := m.AppendOption(ContentFormat, uint32(0)); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("option after marker: %v", err)
	}
	if err := m.Append([]byte("0123")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := m.Append([]byte("45678")); !errors.Is(err, ErrNoBufs) {
		t.Errorf("append over limit: %v", err)
	}

	if got, want := m.Path(), "a/b"; got != want {
		t.Errorf("path: %q != %q", got, want)
	}
	if etag, ok := m.ETag(); !ok || ParseETag(etag) != 0x01020304 {
		t.Errorf("etag: %x %t", etag, ok)
	}
	if b, ok := m.Block1(); !ok || b != (BlockOption{Num: 3, More: true, Szx: BlockSzx64}) {
		t.Errorf("block1: %v %t", b, ok)
	}
	if got, want := m.Payload(), []byte("0123"); !reflect.DeepEqual(got, want) {
		t.Errorf("payload: %q != %q", got, want)
	}
}

func TestMessageInvalidArgs(t *testing.T) {
	m := NewMessage(0)
	m.Init(NonConfirmable, POST)
	if err := m.GenerateToken(9); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("token 9: %v", err)
	}
	if err := m.SetToken(make([]byte, 9)); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("set token 9: %v", err)
	}
	if err := m.AppendBlock1Option(0, false, MaxBlockSzx+1); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("szx 7: %v", err)
	}
	if err := m.AppendBlock1Option(1<<20, false, BlockSzx16); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("num 1<<20: %v", err)
	}
}

func TestETag(t *testing.T) {
	tests := []struct {
		id   uint32
		etag []byte
	}{
		{0, []byte{0, 0, 0, 0}},
		{1, []byte{0, 0, 0, 1}},
		{0xdeadbeef, []byte{0xde, 0xad, 0xbe, 0xef}},
	}
	for _, tt := range tests {
		if got, want := ETagValue(tt.id), tt.etag; !reflect.DeepEqual(got, want) {
			t.Errorf("ETagValue(%d): %x != %x", tt.id, got, want)
		}
		if got, want := ParseETag(tt.etag), tt.id; got != want {
			t.Errorf("ParseETag(%x): %d != %d", tt.etag, got, want)
		}
	}
	if got, want := ParseETag([]byte{1, 2}), uint32(0x0102); got != want {
		t.Errorf("short etag: %x != %x", got, want)
	}
}

func TestMessagePool(t *testing.T) {
	p := messagePool{limit: 2, payload: 16}
	a, b := p.alloc(), p.alloc()
	if a == nil || b == nil {
		t.Fatalf("alloc failed")
	}
	if m := p.alloc(); m != nil {
		t.Errorf("alloc over limit")
	}
	p.free(a)
	p.free(a)
	if got, want := p.inUse(), 1; got != want {
		t.Errorf("in use: %d != %d", got, want)
	}
	p.free(NewMessage(0))
	if got, want := p.inUse(), 1; got != want {
		t.Errorf("in use after foreign free: %d != %d", got, want)
	}
	if m := p.alloc(); m == nil {
		t.Errorf("alloc after free failed")
	}
}
