package coap

import (
	"net"

	"github.com/golang/glog"
)

// Transport 发送CoAP请求并异步回调响应.
//
// SendRequest成功后消息归Transport所有, 失败时仍归调用者所有,
// 调用者需调用FreeMessage释放.
type Transport interface {
	// NewMessage 分配消息, 消息耗尽时返回nil
	NewMessage() *Message

	// FreeMessage 释放未发送成功的消息
	FreeMessage(m *Message)

	// SendRequest 发送请求, 请求结束时(收到响应/超时/被重置)调用一次h
	SendRequest(m *Message, dest net.Addr, h ResponseHandler, arg interface{}) error
}

// ResponseHandler 处理请求的结果.
//
// result非nil时resp为nil.
type ResponseHandler interface {
	HandleResponse(arg interface{}, resp *Message, info *MessageInfo, result error)
}

// ResponseHandlerFunc 函数适配器
type ResponseHandlerFunc func(arg interface{}, resp *Message, info *MessageInfo, result error)

func (f ResponseHandlerFunc) HandleResponse(arg interface{}, resp *Message, info *MessageInfo, result error) {
	f(arg, resp, info, result)
}

// Send 发送单个请求消息, h可以为nil.
func Send(t Transport, typ Type, code Code, dest net.Addr, path string, payload []byte, h ResponseHandler) error {
	const op = "send"
	if IsUnspecified(dest) {
		return newError(op, ErrAddressInvalid, 0, nil)
	}

	m := t.NewMessage()
	if m == nil {
		return newError(op, ErrResourceExhausted, 0, nil)
	}
	if err := buildRequest(m, typ, code, path, payload); err != nil {
		t.FreeMessage(m)
		return newError(op, ErrSendFailed, 0, err)
	}
	if h == nil {
		h = ResponseHandlerFunc(logResponse)
	}
	if err := t.SendRequest(m, dest, h, nil); err != nil {
		t.FreeMessage(m)
		return newError(op, ErrSendFailed, 0, err)
	}
	return nil
}

// Do 按r构造请求消息并发送, r.Token为空时生成随机令牌.
func Do(t Transport, dest net.Addr, r *Request, h ResponseHandler) error {
	const op = "do"
	if IsUnspecified(dest) {
		return newError(op, ErrAddressInvalid, 0, nil)
	}

	m := t.NewMessage()
	if m == nil {
		return newError(op, ErrResourceExhausted, 0, nil)
	}
	if err := r.build(m); err != nil {
		t.FreeMessage(m)
		return newError(op, ErrSendFailed, 0, err)
	}
	if h == nil {
		h = ResponseHandlerFunc(logResponse)
	}
	if err := t.SendRequest(m, dest, h, r); err != nil {
		t.FreeMessage(m)
		return newError(op, ErrSendFailed, 0, err)
	}
	return nil
}

func buildRequest(m *Message, typ Type, code Code, path string, payload []byte) error {
	m.Init(typ, code)
	if err := m.GenerateToken(DefaultTokenLength); err != nil {
		return err
	}
	if err := m.AppendURIPathOptions(path); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	if err := m.SetPayloadMarker(); err != nil {
		return err
	}
	return m.Append(payload)
}

func logResponse(arg interface{}, resp *Message, info *MessageInfo, result error) {
	if result != nil {
		glog.Warningf("request failed: %v", result)
		return
	}
	glog.V(1).Infof("response %s from %s", resp.Code(), info.PeerAddr)
}
