package coap

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/glycerine/idem"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/nrfthread/coapblock/internal/gctable"
)

const maxDatagramSize = 1 << 16

// EndpointOption Endpoint配置项
type EndpointOption func(*Endpoint)

// WithHandler 设置请求处理器, 未设置时收到的请求以RST拒绝.
func WithHandler(h Handler) EndpointOption {
	return func(e *Endpoint) { e.handler = h }
}

// WithMaxMessages 设置同时存在的消息数上限, 等待响应的请求也占用消息.
func WithMaxMessages(n int) EndpointOption {
	return func(e *Endpoint) {
		if n > 0 {
			e.pool.limit = n
		}
	}
}

// WithMaxPayload 设置单个消息可容纳的负载字节数.
func WithMaxPayload(n int) EndpointOption {
	return func(e *Endpoint) {
		if n > 0 {
			e.pool.payload = n
		}
	}
}

// WithResponseTimeout 设置等待响应的超时时间.
func WithResponseTimeout(d time.Duration) EndpointOption {
	return func(e *Endpoint) {
		if d > 0 {
			e.responseTimeout = d
		}
	}
}

// WithTickInterval 设置重传和超时检查的间隔.
func WithTickInterval(d time.Duration) EndpointOption {
	return func(e *Endpoint) {
		if d > 0 {
			e.tickInterval = d
		}
	}
}

// WithAckTimeout 设置CON消息的初始ACK超时时间.
func WithAckTimeout(d time.Duration) EndpointOption {
	return func(e *Endpoint) {
		if d > 0 {
			e.ackTimeout = d
		}
	}
}

// WithSessionIdle 设置空闲会话的回收时间.
func WithSessionIdle(d time.Duration) EndpointOption {
	return func(e *Endpoint) {
		if d > 0 {
			e.sessionIdle = d
		}
	}
}

// Endpoint 基于net.PacketConn的COAP端点, 实现了Transport接口.
//
// running协程维护全部协议状态, serving协程依次调用响应处理器和请求处理器,
// reading协程读取数据报.
type Endpoint struct {
	conn            net.PacketConn
	handler         Handler
	responseTimeout time.Duration
	tickInterval    time.Duration
	ackTimeout      time.Duration
	sessionIdle     time.Duration

	pool      messagePool
	halt      *idem.Halter
	runningc  chan func()
	rundone   chan struct{}
	callbacks callQueue
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	// 以下字段只能在running协程中访问
	seq      uint16
	sessions gctable.Table[*session]
}

// Listen 在指定地址上创建Endpoint.
func Listen(network, address string, opts ...EndpointOption) (*Endpoint, error) {
	conn, err := net.ListenPacket(network, address)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}
	return NewEndpoint(conn, opts...), nil
}

// NewEndpoint 在conn上创建Endpoint, Close时关闭conn.
func NewEndpoint(conn net.PacketConn, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		conn:            conn,
		responseTimeout: EXCHANGE_LIFETIME,
		tickInterval:    DefaultTickInterval,
		ackTimeout:      ACK_TIMEOUT,
		sessionIdle:     DefaultSessionIdle,
		pool:            messagePool{limit: DefaultMaxMessages, payload: DefaultMaxPayload},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.halt = idem.NewHalter()
	e.runningc = make(chan func(), 8)
	e.rundone = make(chan struct{})
	e.callbacks.notify = make(chan struct{}, 1)
	e.seq = uint16(rand.Uint32())
	e.sessions.Buckets = 64

	e.wg.Add(3)
	go e.serving() // 调用上层回调接口协程
	go e.running() // 主逻辑协程
	go e.reading() // 读数据报协程
	return e
}

// LocalAddr 返回本地地址.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// NewMessage 分配消息, 消息数达到上限时返回nil.
func (e *Endpoint) NewMessage() *Message {
	return e.pool.alloc()
}

// FreeMessage 释放消息, 重复释放被忽略.
func (e *Endpoint) FreeMessage(m *Message) {
	e.pool.free(m)
}

// SendRequest 发送请求, 请求结束时在serving协程中调用一次h.
//
// 返回nil后消息归Endpoint所有, 请求结束时自动释放.
func (e *Endpoint) SendRequest(m *Message, dest net.Addr, h ResponseHandler, arg interface{}) error {
	const op = "send request"
	if IsUnspecified(dest) {
		return newError(op, ErrAddressInvalid, 0, nil)
	}
	if m == nil || m.Code() == 0 || m.Code().Class() != 0 {
		return newError(op, ErrInvalidArgs, 0, errors.New("not a request"))
	}
	if h == nil {
		h = ResponseHandlerFunc(logResponse)
	}
	return e.call(op, func() error {
		return e.session(dest).sendRequest(m, h, arg)
	})
}

// Close 停止Endpoint并关闭conn, 等待中的请求以ErrClosed结束.
//
// 不能在回调中调用.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.halt.ReqStop.Close()
		e.closeErr = e.conn.Close()
		e.wg.Wait()
		e.halt.Done.Close()
	})
	return e.closeErr
}

func (e *Endpoint) serving() {
	defer e.wg.Done()
	for {
		select {
		case <-e.callbacks.notify:
			e.callbacks.run()
		case <-e.rundone:
			e.callbacks.run()
			return
		}
	}
}

func (e *Endpoint) running() {
	defer e.wg.Done()
	defer close(e.rundone)

	t := time.NewTicker(e.tickInterval)
	defer t.Stop()
	for {
		select {
		case <-e.halt.ReqStop.Chan:
			e.shutdown()
			return
		case f := <-e.runningc:
			f()
		case <-t.C:
			e.update()
		}
	}
}

func (e *Endpoint) reading() {
	defer e.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.halt.ReqStop.Chan:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			glog.Errorf("endpoint(%s) read from: %v", e.conn.LocalAddr(), err)
			return
		}
		data := make([]byte, n)
		copy(data, buf)
		select {
		case e.runningc <- func() { e.session(addr).recvData(data) }:
		case <-e.halt.ReqStop.Chan:
			return
		}
	}
}

// call 在running协程中执行fn并返回其结果.
func (e *Endpoint) call(op string, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case e.runningc <- func() { errc <- fn() }:
	case <-e.halt.ReqStop.Chan:
		return newError(op, ErrClosed, 0, nil)
	}
	select {
	case err := <-errc:
		return err
	case <-e.rundone:
		select {
		case err := <-errc:
			return err
		default:
			return newError(op, ErrClosed, 0, nil)
		}
	}
}

// post 将fn交给running协程执行, Endpoint关闭后fn被丢弃.
func (e *Endpoint) post(fn func()) {
	select {
	case e.runningc <- fn:
	case <-e.halt.ReqStop.Chan:
	}
}

// serve 将fn交给serving协程执行, 不会阻塞.
func (e *Endpoint) serve(fn func()) {
	e.callbacks.push(fn)
}

func (e *Endpoint) update() {
	now := time.Now()
	var idle []string
	e.sessions.Range(func(s *session) bool {
		s.update(now)
		if s.CanGC() {
			idle = append(idle, s.Key())
		}
		return true
	})
	for _, key := range idle {
		e.sessions.Remove(key)
	}
}

func (e *Endpoint) shutdown() {
	e.sessions.Range(func(s *session) bool {
		s.closeExchanges(ErrClosed)
		return true
	})
}

func (e *Endpoint) session(addr net.Addr) *session {
	return e.sessions.Add(addrKey(addr), func() *session {
		return newSession(e, &peerConn{conn: e.conn, addr: addr}, addr)
	})
}

func (e *Endpoint) genMessageID() uint16 {
	e.seq++
	return e.seq
}

type peerConn struct {
	conn net.PacketConn
	addr net.Addr
}

func (c *peerConn) Write(p []byte) (int, error) {
	return c.conn.WriteTo(p, c.addr)
}

// callQueue 无界回调队列, push不会阻塞.
type callQueue struct {
	mu     sync.Mutex
	fns    []func()
	notify chan struct{}
}

func (q *callQueue) push(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *callQueue) run() {
	for {
		q.mu.Lock()
		fns := q.fns
		q.fns = nil
		q.mu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			fn()
		}
	}
}
