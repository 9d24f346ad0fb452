package coap

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/nrfthread/coapblock/internal/stack/base"
)

func OptionsString(o Options) string {
	var b bytes.Buffer
	o.Write(&b)
	return b.String()
}

func TestOptionsAddSetDel(t *testing.T) {
	var got Options
	got.Add(URIPath, "a")
	got.Add(ContentFormat, uint32(42))
	got.Add(URIPath, "b")
	want := Options{
		{ID: base.URIPath, Value: "a"},
		{ID: base.ContentFormat, Value: uint32(42)},
		{ID: base.URIPath, Value: "b"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("add:\ngot:\n%s\nwant:\n%s\n", OptionsString(got), OptionsString(want))
	}

	got.Set(ContentFormat, uint32(60))
	if v := got.Get(ContentFormat); v != uint32(60) {
		t.Errorf("set: %v != %v", v, 60)
	}

	got.Del(URIPath)
	if got.Contain(URIPath) {
		t.Errorf("del: Uri-Path still present")
	}
	if got, want := len(got), 1; got != want {
		t.Errorf("len: %d != %d", got, want)
	}
}

func TestOptionsPath(t *testing.T) {
	tests := []struct {
		path  string
		parts []string
		want  string
	}{
		{path: "", parts: nil, want: ""},
		{path: "/", parts: nil, want: ""},
		{path: "data", parts: []string{"data"}, want: "data"},
		{path: "/gateway/data/", parts: []string{"gateway", "data"}, want: "gateway/data"},
	}
	for i, tt := range tests {
		var o Options
		o.SetPath(tt.path)
		if got, want := o.GetStrings(URIPath), tt.parts; !reflect.DeepEqual(got, want) {
			t.Errorf("case%d: parts: %q != %q", i, got, want)
		}
		if got, want := o.GetPath(), tt.want; got != want {
			t.Errorf("case%d: path: %q != %q", i, got, want)
		}
	}
}

func TestOptionsWrite(t *testing.T) {
	o := Options{
		{ID: base.URIPath, Value: "line\nbreak"},
		{ID: base.ETag, Value: []byte{0, 0, 0, 9}},
		{ID: base.ContentFormat, Value: uint32(42)},
	}
	want := "ETag: 00000009\r\nUri-Path: line break\r\nContent-Format: 42\r\n"
	if got := OptionsString(o); got != want {
		t.Errorf("got:\n%q\nwant:\n%q", got, want)
	}
	// Write不改变原始顺序
	if o[0].ID != base.URIPath {
		t.Errorf("options reordered by Write")
	}
}
