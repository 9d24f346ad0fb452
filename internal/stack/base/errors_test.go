package base

import (
	"errors"
	"io"
	"testing"
)

func TestError(t *testing.T) {
	tests := []struct {
		err Error
		str string
	}{
		{
			err: Error{Layer: "Layer", Cause: io.EOF},
			str: "Layer: EOF",
		},
		{
			err: Error{Layer: "Layer", Cause: io.EOF, Details: "read a.txt"},
			str: "Layer: EOF(read a.txt)",
		},
	}
	for i, tt := range tests {
		if got, want := tt.err.Error(), tt.str; got != want {
			t.Errorf("case%d: %q != %q", i, got, want)
		}
		if !errors.Is(tt.err, io.EOF) {
			t.Errorf("case%d: cause not unwrapped", i)
		}
	}
}

func TestBadOptionsErrorString(t *testing.T) {
	err := badOptionsError{ids: []uint16{URIHost, 9}}
	if got, want := err.Error(), "unrecognized critical options [Uri-Host 9]"; got != want {
		t.Errorf("%q != %q", got, want)
	}
}
