package deduplication

import (
	"testing"
	"time"

	"github.com/nrfthread/coapblock/internal/stack/base"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	return c.t
}

func (c *clock) add(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestLayer() (*Layer, *clock, *base.CountRecver, *base.CountSender) {
	c := &clock{t: time.Unix(1000, 0)}
	r := &base.CountRecver{}
	s := &base.CountSender{}
	l := NewLayer()
	l.now = c.now
	l.BaseLayer.Recver = r
	l.BaseLayer.Sender = s
	return l, c, r, s
}

func TestLayerExpired(t *testing.T) {
	l, c, _, _ := newTestLayer()
	now := c.now()
	tests := []struct {
		e      exchange
		result bool
	}{
		{e: exchange{at: now.Add(-l.ExchangeLifetime + time.Second), typ: base.CON}, result: false},
		{e: exchange{at: now.Add(-l.ExchangeLifetime - time.Second), typ: base.CON}, result: true},
		{e: exchange{at: now.Add(-l.NonLifetime + time.Second), typ: base.NON}, result: false},
		{e: exchange{at: now.Add(-l.NonLifetime - time.Second), typ: base.NON}, result: true},
		{e: exchange{at: now, typ: base.ACK}, result: true},
	}
	for i, tt := range tests {
		if got, want := l.expired(&tt.e, now), tt.result; got != want {
			t.Errorf("case%d: got(%v) != want(%v)", i, got, want)
		}
	}
}

func TestLayerRecvDuplicates(t *testing.T) {
	tests := []struct {
		typ      uint8
		lifetime func(*Layer) time.Duration
	}{
		{typ: base.CON, lifetime: func(l *Layer) time.Duration { return l.ExchangeLifetime }},
		{typ: base.NON, lifetime: func(l *Layer) time.Duration { return l.NonLifetime }},
	}
	for i, tt := range tests {
		l, c, r, _ := newTestLayer()
		m := base.Message{Type: tt.typ, Code: base.PUT, MessageID: 1}

		for n := 0; n < 10; n++ {
			l.Recv(m)
		}
		if r.Count != 1 || l.Duplicates() != 9 {
			t.Errorf("case%d: recv=%d duplicates=%d", i, r.Count, l.Duplicates())
		}

		c.add(tt.lifetime(l) + time.Millisecond)
		l.Recv(m)
		if got, want := r.Count, 2; got != want {
			t.Errorf("case%d: after lifetime: got(%d) != want(%d)", i, got, want)
		}
	}
}

func TestLayerReplayBlockContinue(t *testing.T) {
	l, _, r, s := newTestLayer()

	req := base.Message{Type: base.CON, Code: base.PUT, MessageID: 9, Token: "ab"}
	ack := base.Message{Type: base.ACK, Code: base.Continue, MessageID: 9, Token: "ab"}

	// 应答之前收到的重复请求被忽略
	l.Recv(req)
	l.Recv(req)
	if got, want := s.Count, 0; got != want {
		t.Fatalf("send count before ack: %d != %d", got, want)
	}

	if err := l.Send(ack); err != nil {
		t.Fatalf("send ack: %v", err)
	}
	if err := l.Send(ack); err == nil {
		t.Errorf("second ack for the same message accepted")
	}

	l.Recv(req)
	if got, want := r.Count, 1; got != want {
		t.Errorf("recv count: %d != %d", got, want)
	}
	if got, want := s.Count, 2; got != want {
		t.Fatalf("send count: %d != %d", got, want)
	}
	if got, want := s.Messages[1].Code, uint8(base.Continue); got != want {
		t.Errorf("replayed code: %d != %d", got, want)
	}

	// token不同则不重放
	other := req
	other.Token = "cd"
	l.Recv(other)
	if got, want := s.Count, 2; got != want {
		t.Errorf("send count after foreign token: %d != %d", got, want)
	}
}

func TestLayerConAfterNon(t *testing.T) {
	l, _, r, s := newTestLayer()
	l.Recv(base.Message{Type: base.NON, Code: base.PUT, MessageID: 5})
	l.Recv(base.Message{Type: base.CON, Code: base.PUT, MessageID: 5})
	if got, want := r.Count, 1; got != want {
		t.Errorf("recv count: %d != %d", got, want)
	}
	if s.Count != 1 || s.Messages[0].Type != base.RST || s.Messages[0].MessageID != 5 {
		t.Errorf("sent %v, want one rst for message 5", s.Messages)
	}
}

func TestLayerSendAckWithoutExchange(t *testing.T) {
	l, _, _, _ := newTestLayer()
	if err := l.Send(base.Message{Type: base.ACK, MessageID: 3}); err == nil {
		t.Errorf("ack without received message accepted")
	}
	l.Recv(base.Message{Type: base.NON, Code: base.PUT, MessageID: 4})
	if err := l.Send(base.Message{Type: base.ACK, MessageID: 4}); err == nil {
		t.Errorf("ack for non message accepted")
	}
}

func TestLayerMaxExchanges(t *testing.T) {
	l, c, r, _ := newTestLayer()
	l.MaxExchanges = 3
	for id := uint16(1); id <= 4; id++ {
		l.Recv(base.Message{Type: base.CON, Code: base.PUT, MessageID: id})
		c.add(time.Second)
	}
	if got, want := l.Len(), 3; got != want {
		t.Fatalf("len: %d != %d", got, want)
	}
	if _, ok := l.exchanges[1]; ok {
		t.Errorf("oldest exchange not evicted")
	}

	// 被淘汰的消息再次到达时按新消息处理
	l.Recv(base.Message{Type: base.CON, Code: base.PUT, MessageID: 1})
	if got, want := r.Count, 5; got != want {
		t.Errorf("recv count: %d != %d", got, want)
	}
}

func TestLayerUpdate(t *testing.T) {
	l, c, _, _ := newTestLayer()
	l.Recv(base.Message{Type: base.NON, Code: base.PUT, MessageID: 1})
	l.Recv(base.Message{Type: base.CON, Code: base.PUT, MessageID: 2})
	c.add(l.NonLifetime + time.Second)
	l.Update()
	if got, want := l.Len(), 1; got != want {
		t.Fatalf("len after non lifetime: %d != %d", got, want)
	}
	c.add(l.ExchangeLifetime)
	l.Update()
	if got, want := l.Len(), 0; got != want {
		t.Fatalf("len after exchange lifetime: %d != %d", got, want)
	}
}
