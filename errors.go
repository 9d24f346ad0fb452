package coap

import (
	"fmt"

	"github.com/pkg/errors"
)

// 传输错误类别
var (
	ErrAddressInvalid    = errors.New("address invalid")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrSendFailed        = errors.New("send failed")
	ErrRemoteRejected    = errors.New("remote rejected")
	ErrTransportFailure  = errors.New("transport failure")
)

var (
	ErrInvalidArgs = errors.New("invalid args")
	ErrNoBufs      = errors.New("no message buffers")
	ErrCanceled    = errors.New("transfer canceled")
	ErrAckTimeout  = errors.New("wait ack timeout")
	ErrTimeout     = errors.New("wait response timeout")
	ErrReset       = errors.New("reset by peer")
	ErrClosed      = errors.New("endpoint closed")
)

// Error 描述块传输或请求失败.
//
// errors.Is 同时匹配Kind和Err.
type Error struct {
	Op   string
	Kind error
	Code Code
	Err  error
}

func (e *Error) Error() string {
	s := e.Op + ": " + e.Kind.Error()
	if e.Code != 0 {
		s += fmt.Sprintf(" (%s)", e.Code)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, code Code, err error) *Error {
	return &Error{Op: op, Kind: kind, Code: code, Err: err}
}
