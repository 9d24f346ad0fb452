package base

import (
	"fmt"
	"io"
)

type Recver interface {
	Recv(m Message) error
}

type Sender interface {
	Send(m Message) error
}

type Setter interface {
	SetRecver(Recver)
	SetSender(Sender)
}

// Updater 由会话定时驱动.
type Updater interface {
	Update()
}

type Layer interface {
	Updater
	Recver
	Sender
	Setter
}

type BaseLayer struct {
	Name string
	Recver
	Sender
}

func (l *BaseLayer) SetRecver(recver Recver) {
	l.Recver = recver
}

func (l *BaseLayer) SetSender(sender Sender) {
	l.Sender = sender
}

func (l *BaseLayer) NewError(cause error) error {
	return Error{Layer: l.Name, Cause: cause}
}

func (l *BaseLayer) Errorf(cause error, format string, a ...interface{}) error {
	return Error{Layer: l.Name, Cause: cause, Details: fmt.Sprintf(format, a...)}
}

func (l *BaseLayer) SendRST(messageID uint16) error {
	m := Message{
		Type:      RST,
		Code:      0,
		MessageID: messageID,
	}
	return l.Send(m)
}

// CountRecver 计数接收到的消息, 测试使用
type CountRecver struct {
	Writer   io.Writer
	Count    int
	Messages []Message
}

func (p *CountRecver) Recv(m Message) error {
	p.Count++
	p.Messages = append(p.Messages, m)
	if p.Writer != nil {
		fmt.Fprintf(p.Writer, "Recv: %v\n", m)
	}
	return nil
}

// CountSender 计数发送的消息, 测试使用
type CountSender struct {
	Writer   io.Writer
	Count    int
	Messages []Message
}

func (p *CountSender) Send(m Message) error {
	p.Count++
	p.Messages = append(p.Messages, m)
	if p.Writer != nil {
		fmt.Fprintf(p.Writer, "Send: %v\n", m)
	}
	return nil
}
