package base

import "time"

// CoAP协议参数
const (
	ACK_TIMEOUT       = 2 * time.Second
	ACK_RANDOM_FACTOR = 1.5
	MAX_RETRANSMIT    = 4
	MAX_LATENCY       = 100 * time.Second
	PROCESSING_DELAY  = ACK_TIMEOUT
)

// 默认参数的衍生时间, 与DefaultParams的计算结果一致
const (
	MAX_TRANSMIT_SPAN = 45 * time.Second
	MAX_TRANSMIT_WAIT = 93 * time.Second
	EXCHANGE_LIFETIME = 247 * time.Second
	NON_LIFETIME      = 145 * time.Second
)

// Params 传输参数, 衍生时间按RFC 7252 4.8.2计算.
type Params struct {
	AckTimeout      time.Duration
	AckRandomFactor float64
	MaxRetransmit   int
	MaxLatency      time.Duration
	ProcessingDelay time.Duration
}

func DefaultParams() Params {
	return Params{
		AckTimeout:      ACK_TIMEOUT,
		AckRandomFactor: ACK_RANDOM_FACTOR,
		MaxRetransmit:   MAX_RETRANSMIT,
		MaxLatency:      MAX_LATENCY,
		ProcessingDelay: PROCESSING_DELAY,
	}
}

func (p Params) backoff(n int) time.Duration {
	return time.Duration(float64(p.AckTimeout) * float64(int(1)<<uint(n)-1) * p.AckRandomFactor)
}

// MaxTransmitSpan 第一次发送到最后一次重传的最长时间
func (p Params) MaxTransmitSpan() time.Duration {
	return p.backoff(p.MaxRetransmit)
}

// MaxTransmitWait 第一次发送到放弃等待ACK的最长时间
func (p Params) MaxTransmitWait() time.Duration {
	return p.backoff(p.MaxRetransmit + 1)
}

func (p Params) MaxRTT() time.Duration {
	return 2*p.MaxLatency + p.ProcessingDelay
}

// ExchangeLifetime CON消息的消息ID可以重用之前的时间
func (p Params) ExchangeLifetime() time.Duration {
	return p.MaxTransmitSpan() + p.MaxRTT()
}

func (p Params) NonLifetime() time.Duration {
	return p.MaxTransmitSpan() + p.MaxLatency
}
