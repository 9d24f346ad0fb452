package coap

import (
	"bytes"
	"io"
	"net"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/nrfthread/coapblock/internal/stack"
	"github.com/nrfthread/coapblock/internal/stack/base"
)

// response 实现了ResponseWriter接口
type response struct {
	session     *session
	confirmable bool
	messageID   uint16
	token       string
	code        Code
	options     Options
	buffer      bytes.Buffer
	acked       bool
	needAck     bool
}

func (r *response) Ack() {
	if r.needAck && !r.acked {
		r.acked = true
		id := r.messageID
		r.session.ep.post(func() {
			if err := r.session.sendACK(id); err != nil {
				glog.Warningf("send ack: %v", err)
			}
		})
	}
}

func (r *response) SetConfirmable() {
	r.confirmable = true
}

func (r *response) Options() *Options {
	return &r.options
}

func (r *response) WriteCode(code Code) {
	r.code = code
}

func (r *response) Write(p []byte) (int, error) {
	return r.buffer.Write(p)
}

// exchange 等待响应的请求
type exchange struct {
	request   *Message
	messageID uint16
	handler   ResponseHandler
	arg       interface{}
	deadline  time.Time
	acked     bool
}

// session 与一个对端的会话, 除构造外只能在running协程中访问.
type session struct {
	ep         *Endpoint
	writer     io.Writer
	addr       net.Addr
	stack      stack.Stack
	exchanges  map[string]*exchange
	lastActive time.Time
}

func newSession(ep *Endpoint, w io.Writer, addr net.Addr) *session {
	s := &session{
		ep:         ep,
		writer:     w,
		addr:       addr,
		exchanges:  make(map[string]*exchange),
		lastActive: time.Now(),
	}
	s.stack.Init(s, s, s.OnAckTimeout)
	if ep != nil {
		s.stack.SetAckTimeout(ep.ackTimeout)
	}
	return s
}

func (s *session) Key() string {
	return addrKey(s.addr)
}

func (s *session) CanGC() bool {
	return len(s.exchanges) == 0 && s.stack.Pending() == 0 && time.Since(s.lastActive) > s.ep.sessionIdle
}

func (s *session) ExecuteGC() {
	glog.V(1).Infof("session %s expired, %d duplicate messages filtered", s.addr, s.stack.Duplicates())
}

func (s *session) update(now time.Time) {
	s.stack.Update()
	for token, x := range s.exchanges {
		if now.After(x.deadline) {
			s.finish(token, x, nil, ErrTimeout)
		}
	}
}

func (s *session) closeExchanges(err error) {
	for token, x := range s.exchanges {
		s.finish(token, x, nil, err)
	}
}

func (s *session) sendRequest(m *Message, h ResponseHandler, arg interface{}) error {
	token := m.msg.Token
	if _, ok := s.exchanges[token]; ok {
		return errors.Errorf("token %x in use", token)
	}
	m.msg.MessageID = s.ep.genMessageID()
	if err := s.sendMessage(m.msg); err != nil {
		return err
	}
	s.exchanges[token] = &exchange{
		request:   m,
		messageID: m.msg.MessageID,
		handler:   h,
		arg:       arg,
		deadline:  time.Now().Add(s.ep.responseTimeout),
	}
	return nil
}

// finish 结束请求并在serving协程中回调处理器.
func (s *session) finish(token string, x *exchange, resp *base.Message, err error) {
	delete(s.exchanges, token)
	s.ep.pool.free(x.request)

	var m *Message
	if resp != nil {
		m = wrapMessage(*resp)
	}
	info := &MessageInfo{PeerAddr: s.addr, LocalAddr: s.ep.conn.LocalAddr()}
	h, arg := x.handler, x.arg
	s.ep.serve(func() { h.HandleResponse(arg, m, info, err) })
}

func (s *session) exchangeByMessageID(id uint16) (string, *exchange, bool) {
	for token, x := range s.exchanges {
		if x.messageID == id {
			return token, x, true
		}
	}
	return "", nil, false
}

func (s *session) OnAckTimeout(m base.Message) {
	if m.Code == 0 || m.Code>>5 != 0 {
		glog.Warningf("%s to %s: ack timeout", m, s.addr)
		return
	}
	if x, ok := s.exchanges[m.Token]; ok && x.messageID == m.MessageID {
		s.finish(m.Token, x, nil, ErrAckTimeout)
	}
}

func (s *session) recvData(data []byte) {
	s.lastActive = time.Now()
	var m base.Message
	if err := m.Unmarshal(data); err != nil {
		glog.Warningf("message from %s unmarshal: %v", s.addr, err)
		handleError(s, m, err)
		return
	}
	if glog.V(2) {
		var mser base.MessageStringer
		glog.Infof("recv from %s: %s", s.addr, mser.MessageString(m))
	}
	if err := s.stack.Recv(m); err != nil {
		glog.V(1).Infof("stack recv: %v", err)
	}
}

func (s *session) Recv(m base.Message) error {
	glog.V(1).Infof("recv: %s", m)

	switch m.Type {
	case base.CON, base.NON:
		s.handleMSG(m)
	case base.ACK:
		s.handleACK(m)
	case base.RST:
		s.handleRST(m)
	}
	return nil
}

func (s *session) handleMSG(m base.Message) {
	if m.Code == 0 {
		// 空消息, CON为ping
		if m.Type == base.CON {
			if err := s.sendRST(m.MessageID); err != nil {
				glog.Warningf("send rst: %v", err)
			}
		}
		return
	}

	c := m.Code >> 5
	switch {
	case c == 0:
		// 请求
		s.handleRequest(m)
	case c >= 2 && c <= 5:
		// 单独响应
		s.handleResponse(m)
	default:
		// 保留
		glog.Warningf("reserved code: %d.%02d", c, m.Code&0x1f)
	}
}

func (s *session) handleRequest(m base.Message) {
	h := s.ep.handler
	if h == nil {
		glog.V(1).Infof("handler is nil")
		if err := s.sendRST(m.MessageID); err != nil {
			glog.Warningf("send rst: %v", err)
		}
		return
	}

	req := &Request{
		Confirmable: m.Type == base.CON,
		Method:      Code(m.Code),
		Options:     Options(m.Options),
		Token:       []byte(m.Token),
		Payload:     m.Payload,
		RemoteAddr:  s.addr,
	}
	resp := &response{
		session:     s,
		confirmable: req.Confirmable,
		messageID:   m.MessageID,
		token:       m.Token,
		code:        Content,
		needAck:     req.Confirmable,
	}

	// 由serving协程调用上层handler处理请求
	s.ep.serve(func() {
		h.ServeCOAP(resp, req)
		s.ep.post(func() {
			if err := s.sendResponse(resp); err != nil {
				glog.Warningf("send response: %v", err)
			}
		})
	})
}

func (s *session) handleResponse(m base.Message) {
	x, ok := s.exchanges[m.Token]
	if m.Type == base.CON {
		var err error
		if ok {
			err = s.sendACK(m.MessageID)
		} else {
			err = s.sendRST(m.MessageID)
		}
		if err != nil {
			glog.Warningf("reply %s: %v", m, err)
		}
	}
	if !ok {
		glog.V(1).Infof("no exchange for %s", m)
		return
	}
	s.finish(m.Token, x, &m, nil)
}

func (s *session) handleACK(m base.Message) {
	if m.Code == 0 {
		// 空ACK, 等待单独响应
		if _, x, ok := s.exchangeByMessageID(m.MessageID); ok {
			x.acked = true
		}
		return
	}
	x, ok := s.exchanges[m.Token]
	if !ok || x.messageID != m.MessageID {
		glog.V(1).Infof("no exchange for %s", m)
		return
	}
	s.finish(m.Token, x, &m, nil)
}

func (s *session) handleRST(m base.Message) {
	if token, x, ok := s.exchangeByMessageID(m.MessageID); ok {
		s.finish(token, x, nil, ErrReset)
	}
}

// Send 协议栈最底层, 将消息写到对端.
func (s *session) Send(m base.Message) error {
	if glog.V(2) {
		var mser base.MessageStringer
		glog.Infof("send to %s: %s", s.addr, mser.MessageString(m))
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	_, err = s.writer.Write(data)
	return err
}

func (s *session) sendMessage(m base.Message) error {
	glog.V(1).Infof("send: %s", m)
	s.lastActive = time.Now()
	return s.stack.Send(m)
}

func (s *session) sendResponse(r *response) error {
	if !r.needAck {
		// 非可靠请求的响应
		m := base.Message{
			Type:      base.NON,
			Code:      uint8(r.code),
			MessageID: s.ep.genMessageID(),
			Token:     r.token,
			Options:   r.options,
			Payload:   r.buffer.Bytes(),
		}
		if r.confirmable {
			m.Type = base.CON
		}
		return s.sendMessage(m)
	}

	if r.acked {
		// 单独响应
		m := base.Message{
			Type:      base.NON,
			Code:      uint8(r.code),
			MessageID: s.ep.genMessageID(),
			Token:     r.token,
			Options:   r.options,
			Payload:   r.buffer.Bytes(),
		}
		if r.confirmable {
			m.Type = base.CON
		}
		return s.sendMessage(m)
	}

	// 附带响应
	m := base.Message{
		Type:      base.ACK,
		Code:      uint8(r.code),
		MessageID: r.messageID,
		Token:     r.token,
		Options:   r.options,
		Payload:   r.buffer.Bytes(),
	}
	return s.sendMessage(m)
}

func (s *session) sendACK(messageID uint16) error {
	m := base.Message{
		Type:      base.ACK,
		MessageID: messageID,
	}
	return s.sendMessage(m)
}

func (s *session) sendRST(messageID uint16) error {
	m := base.Message{
		Type:      base.RST,
		MessageID: messageID,
	}
	return s.sendMessage(m)
}

func (s *session) directSendRST(messageID uint16) error {
	m := base.Message{
		Type:      base.RST,
		MessageID: messageID,
	}
	return s.Send(m)
}

func (s *session) directSendBadOptionACK(messageID uint16, token string) error {
	payload := `Unrecognized options of class "critical" that occur in a Confirmable request`
	m := base.Message{
		Type:      base.ACK,
		Code:      base.BadOption,
		MessageID: messageID,
		Token:     token,
		Payload:   []byte(payload),
	}
	return s.Send(m)
}
