package base

import (
	"errors"
	"io"
	"testing"
)

func TestBaseLayer(t *testing.T) {
	r := CountRecver{}
	s := CountSender{}
	l := BaseLayer{
		Name:   "base",
		Recver: &r,
		Sender: &s,
	}

	l.Recv(Message{})
	if got, want := r.Count, 1; got != want {
		t.Errorf("recv count: %v != %v", got, want)
	}

	l.Send(Message{})
	l.SendRST(1)
	if got, want := s.Count, 2; got != want {
		t.Errorf("send count: %v != %v", got, want)
	}
	if got, want := s.Messages[1], (Message{Type: RST, MessageID: 1}); got.Type != want.Type || got.MessageID != want.MessageID {
		t.Errorf("rst: %v != %v", got, want)
	}
}

func TestBaseLayerError(t *testing.T) {
	l := BaseLayer{Name: "base"}
	if got, want := l.NewError(io.EOF).Error(), "base: EOF"; got != want {
		t.Errorf("%q != %q", got, want)
	}
	err := l.Errorf(io.EOF, "read %s", "a.txt")
	if got, want := err.Error(), "base: EOF(read a.txt)"; got != want {
		t.Errorf("%q != %q", got, want)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("errors.Is(%v, io.EOF) == false", err)
	}
}
