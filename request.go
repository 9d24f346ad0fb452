package coap

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Request COAP请求
type Request struct {
	// 是否为可靠消息
	Confirmable bool

	// 请求方法
	Method Code

	// COAP选项
	Options Options

	// 目标url, 发送端使用
	URL *url.URL

	// 消息令牌, 消息接收端使用
	Token []byte

	// 消息负载
	Payload []byte

	// 远端地址, 消息接收端使用
	RemoteAddr net.Addr
}

// NewRequest 由url构造COAP请求, 主机名和非默认端口写入Uri-Host/Uri-Port选项.
func NewRequest(confirmable bool, method Code, urlstr string, payload []byte) (*Request, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "coap" {
		return nil, errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Fragment != "" {
		return nil, errors.New("unsupport fragment")
	}
	host, port, err := splitHostPort(u.Host)
	if err != nil {
		return nil, err
	}

	options := Options{}
	if net.ParseIP(host) == nil {
		options.Set(URIHost, host)
	}
	if port == 0 {
		u.Host = net.JoinHostPort(host, strconv.Itoa(DefaultPort))
	} else {
		options.Set(URIPort, port)
	}
	options.SetPath(u.Path)
	options.SetQuery(u.RawQuery)
	r := &Request{
		Confirmable: confirmable,
		Method:      method,
		Options:     options,
		URL:         u,
		Payload:     payload,
	}
	return r, nil
}

// Path 返回Uri-Path.
func (r *Request) Path() string {
	return r.Options.GetPath()
}

// Block1 返回Block1选项.
func (r *Request) Block1() (BlockOption, bool) {
	v, ok := r.Options.Get(Block1).(uint32)
	if !ok {
		return BlockOption{}, false
	}
	return ParseBlockOption(v), true
}

// ETag 返回第一个ETag选项.
func (r *Request) ETag() ([]byte, bool) {
	v, ok := r.Options.Get(ETag).([]byte)
	return v, ok
}

func (r *Request) build(m *Message) error {
	typ := NonConfirmable
	if r.Confirmable {
		typ = Confirmable
	}
	m.Init(typ, r.Method)
	var err error
	if len(r.Token) > 0 {
		err = m.SetToken(r.Token)
	} else {
		err = m.GenerateToken(DefaultTokenLength)
	}
	if err != nil {
		return err
	}
	for _, o := range r.Options {
		if err = m.AppendOption(OptionID(o.ID), o.Value); err != nil {
			return err
		}
	}
	if len(r.Payload) == 0 {
		return nil
	}
	if err = m.SetPayloadMarker(); err != nil {
		return err
	}
	return m.Append(r.Payload)
}

func splitHostPort(hostport string) (string, uint32, error) {
	if !strings.Contains(hostport, ":") || strings.HasSuffix(hostport, "]") {
		return strings.Trim(hostport, "[]"), 0, nil
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	if len(host) <= 0 {
		return "", 0, errors.New("invalid host")
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", 0, err
	}
	return host, uint32(n), nil
}
