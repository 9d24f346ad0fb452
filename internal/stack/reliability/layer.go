package reliability

import (
	"math/rand"
	"time"

	"github.com/golang/glog"

	"github.com/nrfthread/coapblock/internal/stack/base"
)

// outstanding 等待ACK的CON消息
type outstanding struct {
	msg       base.Message
	first     time.Time
	last      time.Time
	transmits int
	timeout   time.Duration
}

var _ base.Layer = &Layer{}

// Layer 可靠传输层, 负责CON消息的指数退避重传.
//
// 重传MaxRetransmit次或超过MaxTransmitWait仍未收到ACK/RST时,
// 调用OnTimeout通知上层. 块传输的每个块都是一条CON消息, 超时即传输失败.
type Layer struct {
	base.BaseLayer
	base.Params
	OnTimeout func(base.Message)

	now         func() time.Time
	random      func() float64
	outstanding map[uint16]*outstanding
	retransmits uint64
}

func NewLayer(timeout func(base.Message)) *Layer {
	return &Layer{
		BaseLayer:   base.BaseLayer{Name: "reliability"},
		Params:      base.DefaultParams(),
		OnTimeout:   timeout,
		now:         time.Now,
		random:      rand.Float64,
		outstanding: make(map[uint16]*outstanding),
	}
}

func (l *Layer) Update() {
	now := l.now()
	wait := l.MaxTransmitWait()
	for id, o := range l.outstanding {
		switch {
		case now.Sub(o.first) >= wait:
		case now.Sub(o.last) < o.timeout:
			continue
		case o.transmits <= l.MaxRetransmit:
			l.retransmits++
			glog.V(2).Infof("retransmit %s (%d)", o.msg, o.transmits)
			if err := l.transmit(o, now); err != nil {
				glog.Warningf("retransmit %s: %v", o.msg, err)
			}
			continue
		}
		delete(l.outstanding, id)
		if l.OnTimeout != nil {
			l.OnTimeout(o.msg)
		}
	}
}

func (l *Layer) Recv(m base.Message) error {
	if m.Type != base.ACK && m.Type != base.RST {
		return l.BaseLayer.Recv(m)
	}
	_, ok := l.outstanding[m.MessageID]
	delete(l.outstanding, m.MessageID)
	// NON消息也可能被RST拒绝
	if ok || m.Type == base.RST {
		return l.BaseLayer.Recv(m)
	}
	glog.V(1).Infof("drop unmatched %s", m)
	return nil
}

func (l *Layer) Send(m base.Message) error {
	if m.Type != base.CON {
		return l.BaseLayer.Send(m)
	}
	if _, ok := l.outstanding[m.MessageID]; ok {
		return l.BaseLayer.Errorf(base.ErrDupMessageID, "message id %d", m.MessageID)
	}
	now := l.now()
	o := &outstanding{msg: m, first: now}
	l.outstanding[m.MessageID] = o
	if err := l.transmit(o, now); err != nil {
		delete(l.outstanding, m.MessageID)
		return err
	}
	return nil
}

// Pending 返回等待ACK的消息数.
func (l *Layer) Pending() int {
	return len(l.outstanding)
}

// Retransmits 返回累计重传次数.
func (l *Layer) Retransmits() uint64 {
	return l.retransmits
}

func (l *Layer) transmit(o *outstanding, now time.Time) error {
	o.last = now
	if o.transmits == 0 {
		o.timeout = l.randAckTimeout()
	} else {
		o.timeout *= 2
	}
	o.transmits++
	return l.BaseLayer.Send(o.msg)
}

// randAckTimeout 返回[AckTimeout, AckTimeout*AckRandomFactor]内的随机值.
func (l *Layer) randAckTimeout() time.Duration {
	factor := l.AckRandomFactor - 1
	if factor <= 0 {
		return l.AckTimeout
	}
	return l.AckTimeout + time.Duration(float64(l.AckTimeout)*factor*l.random())
}
