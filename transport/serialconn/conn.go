// Package serialconn 在串口等字节流上以SLIP(RFC 1055)分帧, 提供net.PacketConn.
package serialconn

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/glycerine/idem"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// MaxFrameSize 超过该长度的帧被丢弃
const MaxFrameSize = 1 << 16

// ErrFrameTooLarge 写入的数据报超过MaxFrameSize
var ErrFrameTooLarge = errors.New("slip frame too large")

// Addr 链路对端地址
type Addr string

func (a Addr) Network() string {
	return "slip"
}

func (a Addr) String() string {
	return "slip:" + string(a)
}

// Config 串口配置
type Config struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// Open 打开串口并返回其上的Conn.
func Open(cfg Config) (*Conn, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Name)
	}
	return New(port, cfg.Name), nil
}

// Conn 点对点链路上的net.PacketConn, 所有数据报来自/发往同一个对端.
type Conn struct {
	rwc   io.ReadWriteCloser
	addr  Addr
	halt  *idem.Halter
	frame chan []byte

	wmu sync.Mutex

	mu       sync.Mutex
	deadline time.Time
	err      error

	closeOnce sync.Once
	closeErr  error
}

// New 在rwc上创建Conn, name用于标识链路地址. Close时关闭rwc.
func New(rwc io.ReadWriteCloser, name string) *Conn {
	c := &Conn{
		rwc:   rwc,
		addr:  Addr(name),
		halt:  idem.NewHalter(),
		frame: make(chan []byte, 16),
	}
	go c.reading()
	return c
}

func (c *Conn) reading() {
	defer c.halt.Done.Close()

	var d decoder
	buf := make([]byte, 4096)
	for {
		select {
		case <-c.halt.ReqStop.Chan:
			return
		default:
		}
		n, err := c.rwc.Read(buf)
		for _, b := range buf[:n] {
			f := d.feed(b)
			if f == nil {
				continue
			}
			select {
			case c.frame <- f:
			case <-c.halt.ReqStop.Chan:
				return
			}
		}
		if err != nil {
			select {
			case <-c.halt.ReqStop.Chan:
			default:
				if err != io.EOF {
					glog.Errorf("%s read: %v", c.addr, err)
				}
			}
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			c.halt.ReqStop.Close()
			return
		}
	}
}

func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, nil, timeoutError{}
		}
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case f := <-c.frame:
		return copy(p, f), c.addr, nil
	case <-c.halt.ReqStop.Chan:
		return 0, nil, c.closedErr()
	case <-timeout:
		return 0, nil, timeoutError{}
	}
}

func (c *Conn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil && c.err != io.EOF {
		return c.err
	}
	return net.ErrClosed
}

func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if len(p) > MaxFrameSize {
		return 0, ErrFrameTooLarge
	}
	select {
	case <-c.halt.ReqStop.Chan:
		return 0, c.closedErr()
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rwc.Write(encode(make([]byte, 0, len(p)+len(p)/8+2), p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.halt.ReqStop.Close()
		c.closeErr = c.rwc.Close()
		<-c.halt.Done.Chan
	})
	return c.closeErr
}

func (c *Conn) LocalAddr() net.Addr {
	return c.addr
}

// RemoteAddr 返回链路对端地址.
func (c *Conn) RemoteAddr() net.Addr {
	return c.addr
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline 串口写不支持超时, 总是返回nil.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return nil
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
