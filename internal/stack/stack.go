package stack

import (
	"time"

	"github.com/nrfthread/coapblock/internal/stack/base"
	"github.com/nrfthread/coapblock/internal/stack/deduplication"
	"github.com/nrfthread/coapblock/internal/stack/reliability"
)

// Stack 协议栈, 自上而下依次为去重层和可靠传输层.
type Stack struct {
	base.Recver
	base.Sender
	layers        []base.Layer
	deduplication *deduplication.Layer
	reliability   *reliability.Layer
}

func NewStack(recver base.Recver, sender base.Sender, timeout func(base.Message)) *Stack {
	return new(Stack).Init(recver, sender, timeout)
}

func (s *Stack) Init(recver base.Recver, sender base.Sender, timeout func(base.Message)) *Stack {
	s.deduplication = deduplication.NewLayer()
	s.reliability = reliability.NewLayer(timeout)
	s.Recver, s.Sender, s.layers = makeLayers(
		recver, sender,
		s.deduplication,
		s.reliability,
	)
	return s
}

// SetAckTimeout 设置初始ACK超时时间, 重传和去重的时间参数随之重新计算.
func (s *Stack) SetAckTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	p := base.DefaultParams()
	p.AckTimeout = d
	s.reliability.Params = p
	s.deduplication.ExchangeLifetime = p.ExchangeLifetime()
	s.deduplication.NonLifetime = p.NonLifetime()
}

// Duplicates 返回被去重层过滤的重复消息数.
func (s *Stack) Duplicates() uint64 {
	return s.deduplication.Duplicates()
}

// Pending 返回等待ACK的CON消息数.
func (s *Stack) Pending() int {
	return s.reliability.Pending()
}

func (s *Stack) Update() {
	for _, l := range s.layers {
		l.Update()
	}
}

func makeLayers(recver base.Recver, sender base.Sender, layers ...base.Layer) (base.Recver, base.Sender, []base.Layer) {
	for i := len(layers) - 1; i >= 0; i-- {
		layers[i].SetRecver(recver)
		recver = layers[i]
	}
	for i := 0; i < len(layers); i++ {
		layers[i].SetSender(sender)
		sender = layers[i]
	}
	return recver, sender, layers
}
