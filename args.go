package coap

import (
	"time"

	"github.com/nrfthread/coapblock/internal/stack/base"
)

// CoAP协议参数
const (
	ACK_TIMEOUT       = base.ACK_TIMEOUT
	ACK_RANDOM_FACTOR = base.ACK_RANDOM_FACTOR
	MAX_RETRANSMIT    = base.MAX_RETRANSMIT
	EXCHANGE_LIFETIME = base.EXCHANGE_LIFETIME
	NON_LIFETIME      = base.NON_LIFETIME
)

// Endpoint默认参数
const (
	DefaultPort         = 5683
	DefaultMaxMessages  = 16
	DefaultMaxPayload   = 1152
	DefaultTickInterval = 100 * time.Millisecond
	DefaultSessionIdle  = 10 * time.Minute
	DefaultTokenLength  = 2
)
