package coaptest

import (
	"bytes"

	coap "github.com/nrfthread/coapblock"
)

// ResponseRecorder 记录Handler写入的响应, 用于测试块传输的接收端.
type ResponseRecorder struct {
	Acked       bool
	Confirmable bool
	Code        coap.Code
	Header      coap.Options
	Body        bytes.Buffer
}

func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{
		Code:   coap.Content,
		Header: make(coap.Options, 0),
	}
}

func (rw *ResponseRecorder) Ack()            { rw.Acked = true }
func (rw *ResponseRecorder) SetConfirmable() { rw.Confirmable = true }
func (rw *ResponseRecorder) Options() *coap.Options {
	return &rw.Header
}

func (rw *ResponseRecorder) WriteCode(code coap.Code) {
	rw.Code = code
}

func (rw *ResponseRecorder) Write(buf []byte) (int, error) {
	return rw.Body.Write(buf)
}

// Block1 返回响应中回显的Block1选项.
func (rw *ResponseRecorder) Block1() (coap.BlockOption, bool) {
	v, ok := rw.Header.Get(coap.Block1).(uint32)
	if !ok {
		return coap.BlockOption{}, false
	}
	return coap.ParseBlockOption(v), true
}

// Size1 返回4.13响应中的Size1选项.
func (rw *ResponseRecorder) Size1() (int, bool) {
	v, ok := rw.Header.Get(coap.Size1).(uint32)
	return int(v), ok
}
