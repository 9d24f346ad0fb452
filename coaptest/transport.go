package coaptest

import (
	"errors"
	"net"
	"sync"

	coap "github.com/nrfthread/coapblock"
)

// ErrNoPending 没有等待响应的请求
var ErrNoPending = errors.New("no pending request")

// Request 记录一次SendRequest
type Request struct {
	Message *coap.Message
	Dest    net.Addr
	Handler coap.ResponseHandler
	Arg     interface{}
}

// Transport 用于测试的coap.Transport实现.
//
// 发送的请求按顺序记录, 由Respond/Fail按FIFO顺序结束.
// 响应处理器在调用Respond/Fail的协程中执行.
type Transport struct {
	Limit      int   // 同时存在的消息数上限, 0表示不限制
	MaxPayload int   // 消息负载容量, 0使用默认值
	SendErr    error // 非nil时SendRequest返回该错误

	mu          sync.Mutex
	outstanding int
	allocs      int
	frees       int
	sent        []*Request
	pending     []*Request
}

func (t *Transport) NewMessage() *coap.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Limit > 0 && t.outstanding >= t.Limit {
		return nil
	}
	t.outstanding++
	t.allocs++
	return coap.NewMessage(t.MaxPayload)
}

func (t *Transport) FreeMessage(m *coap.Message) {
	t.mu.Lock()
	t.outstanding--
	t.frees++
	t.mu.Unlock()
}

func (t *Transport) SendRequest(m *coap.Message, dest net.Addr, h coap.ResponseHandler, arg interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendErr != nil {
		return t.SendErr
	}
	r := &Request{Message: m, Dest: dest, Handler: h, Arg: arg}
	t.sent = append(t.sent, r)
	t.pending = append(t.pending, r)
	return nil
}

// Sent 返回所有发送成功的请求.
func (t *Transport) Sent() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Request(nil), t.sent...)
}

// Pending 返回等待响应的请求数.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Outstanding 返回已分配未释放的消息数, 等待响应的请求也计算在内.
func (t *Transport) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding
}

// Allocs 返回NewMessage成功的次数.
func (t *Transport) Allocs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocs
}

// Frees 返回FreeMessage的调用次数.
func (t *Transport) Frees() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frees
}

// Respond 以code响应最早的等待请求, from为nil时使用请求的目的地址.
func (t *Transport) Respond(code coap.Code, from net.Addr) error {
	r, err := t.pop()
	if err != nil {
		return err
	}
	resp := coap.NewMessage(0)
	resp.Init(coap.Acknowledgement, code)
	resp.SetToken(r.Message.Token())
	if from == nil {
		from = r.Dest
	}
	r.Handler.HandleResponse(r.Arg, resp, &coap.MessageInfo{PeerAddr: from}, nil)
	return nil
}

// Fail 以err结束最早的等待请求.
func (t *Transport) Fail(err error) error {
	r, perr := t.pop()
	if perr != nil {
		return perr
	}
	r.Handler.HandleResponse(r.Arg, nil, &coap.MessageInfo{PeerAddr: r.Dest}, err)
	return nil
}

func (t *Transport) pop() (*Request, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil, ErrNoPending
	}
	r := t.pending[0]
	t.pending = t.pending[1:]
	t.outstanding--
	return r, nil
}
