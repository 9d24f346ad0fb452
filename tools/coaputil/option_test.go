package coaputil

import (
	"reflect"
	"testing"

	coap "github.com/nrfthread/coapblock"
	"github.com/nrfthread/coapblock/internal/stack/base"
)

func TestParseOptionByName(t *testing.T) {
	tests := []struct {
		s   string
		opt base.Option
	}{
		{"If-None-Match", base.Option{ID: base.IfNoneMatch}},
		{"Content-Format:50", base.Option{ID: base.ContentFormat, Value: uint32(50)}},
		{"uri-host: gateway.local", base.Option{ID: base.URIHost, Value: "gateway.local"}},
		{"Uri-Query:t=12:30", base.Option{ID: base.URIQuery, Value: "t=12:30"}},
		{"ETag:abcd", base.Option{ID: base.ETag, Value: []byte("abcd")}},
	}
	for i, tt := range tests {
		opt, err := ParseOptionByName(tt.s)
		if err != nil {
			t.Fatalf("%d: parse %q: %v", i, tt.s, err)
		}
		if got, want := opt, tt.opt; !reflect.DeepEqual(got, want) {
			t.Errorf("%d: %v != %v", i, got, want)
		}
	}
}

func TestParseOptionError(t *testing.T) {
	tests := []string{
		"No-Such-Option:1",
		"Content-Format:x",
		":1",
	}
	for _, s := range tests {
		if _, err := ParseOptionByName(s); err == nil {
			t.Errorf("parse %q: expected error", s)
		}
	}
	if _, err := ParseOptionByID(UintValue, "x:1"); err == nil {
		t.Errorf("parse id: expected error")
	}
}

func TestAddOptions(t *testing.T) {
	var opts coap.Options
	if err := AddOptionsByName(&opts, []string{"Max-Age:60"}); err != nil {
		t.Fatal(err)
	}
	if err := AddOptionsByID(&opts, StringValue, []string{"65000:hello"}); err != nil {
		t.Fatal(err)
	}
	if got, want := opts.Get(coap.MaxAge), uint32(60); got != want {
		t.Errorf("max age: %v != %v", got, want)
	}
	if got, want := opts.Get(coap.OptionID(65000)), "hello"; got != want {
		t.Errorf("65000: %v != %v", got, want)
	}
}
