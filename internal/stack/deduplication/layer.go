package deduplication

import (
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/nrfthread/coapblock/internal/stack/base"
)

var (
	ErrAckNonMessage = errors.New("non message not need ack")
	ErrMessageSaved  = errors.New("message already saved")
)

// DefaultMaxExchanges 单个会话最多记录的交换数
const DefaultMaxExchanges = 1024

// exchange 对端发来的一条CON/NON消息, reply为本端对它的应答.
type exchange struct {
	at    time.Time
	typ   uint8
	reply *base.Message
}

var _ base.Layer = &Layer{}

// Layer 去重层, 在EXCHANGE_LIFETIME/NON_LIFETIME内过滤重复的CON/NON消息,
// 重复的CON消息若已有应答则重发保存的应答. 块传输中对端重传的Block1请求
// 由此得到与第一次相同的2.31应答, 不会被重复交给上层.
type Layer struct {
	base.BaseLayer
	NonLifetime      time.Duration
	ExchangeLifetime time.Duration
	MaxExchanges     int

	now        func() time.Time
	exchanges  map[uint16]*exchange
	duplicates uint64
}

func NewLayer() *Layer {
	return &Layer{
		BaseLayer:        base.BaseLayer{Name: "deduplication"},
		NonLifetime:      base.NON_LIFETIME,
		ExchangeLifetime: base.EXCHANGE_LIFETIME,
		MaxExchanges:     DefaultMaxExchanges,
		now:              time.Now,
		exchanges:        make(map[uint16]*exchange),
	}
}

func (l *Layer) Update() {
	now := l.now()
	for id, e := range l.exchanges {
		if l.expired(e, now) {
			delete(l.exchanges, id)
		}
	}
}

func (l *Layer) Recv(m base.Message) error {
	if m.Type != base.CON && m.Type != base.NON {
		return l.BaseLayer.Recv(m)
	}

	e := l.lookup(m.MessageID)
	if e == nil {
		l.remember(m)
		return l.BaseLayer.Recv(m)
	}
	l.duplicates++

	switch {
	case e.typ == base.CON && m.Type == base.CON:
		if e.reply != nil && (e.reply.Token == "" || e.reply.Token == m.Token) {
			glog.V(1).Infof("replay %s for duplicate %s", e.reply, m)
			if err := l.BaseLayer.Send(*e.reply); err != nil {
				glog.Warningf("replay saved reply: %v", err)
			}
		}
	case e.typ == base.NON && m.Type == base.CON:
		// 同一消息ID先NON后CON, 对端状态错乱
		if err := l.BaseLayer.SendRST(m.MessageID); err != nil {
			glog.Warningf("send rst: %v", err)
		}
	}
	return nil
}

func (l *Layer) Send(m base.Message) error {
	if m.Type != base.ACK && m.Type != base.RST {
		return l.BaseLayer.Send(m)
	}

	e := l.lookup(m.MessageID)
	switch {
	case e == nil:
		return l.BaseLayer.Errorf(base.ErrStateNotFound, "message id %d", m.MessageID)
	case e.typ == base.NON && m.Type == base.ACK:
		return l.BaseLayer.NewError(ErrAckNonMessage)
	case e.reply != nil:
		return l.BaseLayer.NewError(ErrMessageSaved)
	}
	reply := m
	e.reply = &reply
	return l.BaseLayer.Send(m)
}

// Len 返回记录的交换数.
func (l *Layer) Len() int {
	return len(l.exchanges)
}

// Duplicates 返回被过滤的重复消息数.
func (l *Layer) Duplicates() uint64 {
	return l.duplicates
}

func (l *Layer) lookup(id uint16) *exchange {
	e, ok := l.exchanges[id]
	if !ok || l.expired(e, l.now()) {
		return nil
	}
	return e
}

func (l *Layer) expired(e *exchange, now time.Time) bool {
	switch e.typ {
	case base.CON:
		return now.Sub(e.at) > l.ExchangeLifetime
	case base.NON:
		return now.Sub(e.at) > l.NonLifetime
	}
	return true
}

func (l *Layer) remember(m base.Message) {
	if l.MaxExchanges > 0 && len(l.exchanges) >= l.MaxExchanges {
		l.Update()
		if len(l.exchanges) >= l.MaxExchanges {
			l.evictOldest()
		}
	}
	l.exchanges[m.MessageID] = &exchange{at: l.now(), typ: m.Type}
}

func (l *Layer) evictOldest() {
	var (
		oldest uint16
		at     time.Time
		found  bool
	)
	for id, e := range l.exchanges {
		if !found || e.at.Before(at) {
			oldest, at, found = id, e.at, true
		}
	}
	if found {
		delete(l.exchanges, oldest)
	}
}
