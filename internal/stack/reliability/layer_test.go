package reliability

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

func newTestLayer(timeout func(base.Message)) (*Layer, *clock, *base.CountRecver, *base.CountSender) {
	c := &clock{t: time.Unix(1000, 0)}
	r := &base.CountRecver{}
	s := &base.CountSender{}
	l := NewLayer(timeout)
	l.now = c.now
	l.random = func() float64 { return 0 }
	l.BaseLayer.Recver = r
	l.BaseLayer.Sender = s
	return l, c, r, s
}

func TestRandAckTimeout(t *testing.T) {
	l := NewLayer(nil)
	min := l.AckTimeout
	max := time.Duration(float64(l.AckTimeout) * l.AckRandomFactor)
	for i := 0; i < 10000; i++ {
		d := l.randAckTimeout()
		if d < min || d > max {
			t.Fatalf("%d: d=%s, min=%s, max=%s", i, d, min, max)
		}
	}

	l.AckRandomFactor = 1
	if got, want := l.randAckTimeout(), l.AckTimeout; got != want {
		t.Errorf("factor 1: %v != %v", got, want)
	}
}

func TestRetransmitBackoff(t *testing.T) {
	l, c, _, s := newTestLayer(nil)
	if err := l.Send(base.Message{Type: base.CON, Code: base.PUT, MessageID: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}

	// 超时时间依次为2s, 4s, 8s, 16s
	steps := []struct {
		advance   time.Duration
		transmits int
	}{
		{advance: 1999 * time.Millisecond, transmits: 1},
		{advance: time.Millisecond, transmits: 2},
		{advance: 3 * time.Second, transmits: 2},
		{advance: time.Second, transmits: 3},
		{advance: 8 * time.Second, transmits: 4},
		{advance: 16 * time.Second, transmits: 5},
	}
	for i, st := range steps {
		c.t = c.t.Add(st.advance)
		l.Update()
		if got := s.Count; got != st.transmits {
			t.Fatalf("step%d: transmits %d != %d", i, got, st.transmits)
		}
	}
	if got, want := l.Retransmits(), uint64(4); got != want {
		t.Errorf("retransmits: %d != %d", got, want)
	}
}

func TestRecvAck(t *testing.T) {
	l, c, r, s := newTestLayer(nil)

	if err := l.Send(base.Message{Type: base.CON, Code: base.PUT, MessageID: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	c.t = c.t.Add(l.AckTimeout)
	l.Update()
	l.Recv(base.Message{Type: base.ACK, Code: base.Continue, MessageID: 1})
	if got, want := r.Count, 1; got != want {
		t.Fatalf("recv count: %d != %d", got, want)
	}

	// 收到ACK后不再重传
	c.t = c.t.Add(10 * l.AckTimeout)
	l.Update()
	if got, want := s.Count, 2; got != want {
		t.Errorf("transmits: %d != %d", got, want)
	}
	if got, want := l.Pending(), 0; got != want {
		t.Errorf("pending: %d != %d", got, want)
	}

	// 重复的ACK被丢弃
	l.Recv(base.Message{Type: base.ACK, Code: base.Continue, MessageID: 1})
	if got, want := r.Count, 1; got != want {
		t.Errorf("duplicate ack recv count: %d != %d", got, want)
	}
}

func TestAckTimeout(t *testing.T) {
	var timeouts []base.Message
	l, c, _, s := newTestLayer(func(m base.Message) { timeouts = append(timeouts, m) })
	l.MaxRetransmit = 3

	if err := l.Send(base.Message{Type: base.CON, Code: base.PUT, MessageID: 7}); err != nil {
		t.Fatalf("send: %v", err)
	}
	for i := 0; i < 100 && len(timeouts) == 0; i++ {
		c.t = c.t.Add(time.Second)
		l.Update()
	}
	if got, want := len(timeouts), 1; got != want {
		t.Fatalf("timeouts: %d != %d", got, want)
	}
	if got, want := timeouts[0].MessageID, uint16(7); got != want {
		t.Errorf("timeout message id: %d != %d", got, want)
	}
	if got, want := s.Count, l.MaxRetransmit+1; got != want {
		t.Errorf("transmits: %d != %d", got, want)
	}
	if got, want := l.Pending(), 0; got != want {
		t.Errorf("pending: %d != %d", got, want)
	}
}

func TestMaxTransmitWait(t *testing.T) {
	var timeouts int
	l, c, _, _ := newTestLayer(func(base.Message) { timeouts++ })
	l.Send(base.Message{Type: base.CON, Code: base.PUT, MessageID: 2})

	// 超过MAX_TRANSMIT_WAIT即超时, 不论已重传几次
	c.t = c.t.Add(l.MaxTransmitWait())
	l.Update()
	if timeouts != 1 {
		t.Errorf("timeouts: %d != 1", timeouts)
	}
}

func TestSendDuplicateMessageID(t *testing.T) {
	l, _, _, s := newTestLayer(nil)

	m := base.Message{Type: base.CON, Code: base.PUT, MessageID: 1}
	if err := l.Send(m); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := l.Send(m); err == nil {
		t.Errorf("duplicate message id accepted")
	}
	if err := l.Send(base.Message{Type: base.NON, Code: base.PUT, MessageID: 1}); err != nil {
		t.Errorf("send non: %v", err)
	}
	if got, want := s.Count, 2; got != want {
		t.Errorf("send count: %d != %d", got, want)
	}
}

func TestRecvRST(t *testing.T) {
	l, _, r, _ := newTestLayer(nil)

	// NON请求的RST同样上交
	l.Recv(base.Message{Type: base.RST, MessageID: 7})
	if got, want := r.Count, 1; got != want {
		t.Fatalf("recv count: %d != %d", got, want)
	}
	l.Recv(base.Message{Type: base.ACK, MessageID: 7})
	if got, want := r.Count, 1; got != want {
		t.Errorf("unmatched ack recv count: %d != %d", got, want)
	}
}
