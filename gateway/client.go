package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	coap "github.com/nrfthread/coapblock"
)

// DiscoveryPath 发现包的资源路径
const DiscoveryPath = "discovery"

// blockHeadroom 块传输缓冲区为包头预留的空间
const blockHeadroom = 256

// ErrPacketTooLarge 数据包超过MaxPacketSize
var ErrPacketTooLarge = errors.New("packet too large")

// Client 网关客户端, 发送带包头的数据包.
//
// 每次发送成功后序号递增, 序号同时作为块传输的ETag.
// 收到4.04响应时向对端发送发现包.
type Client struct {
	Transport  coap.Transport
	DeviceID   []byte
	DeviceType string

	// 写入发现包的网关地址
	DiscoveryAddr string

	// 为nil时使用ProtoCodec
	Codec Codec

	// 普通请求的响应处理器, 可以为nil
	Handler coap.ResponseHandler

	mu   sync.Mutex
	seq  uint32
	bufs sync.Pool
}

// Seq 返回下一个数据包的序号.
func (c *Client) Seq() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func (c *Client) codec() Codec {
	if c.Codec == nil {
		return ProtoCodec{}
	}
	return c.Codec
}

// header 在持有c.mu时调用.
func (c *Client) header(ts time.Time) Header {
	h := Header{
		Version:    PacketVersion,
		ID:         c.DeviceID,
		DeviceType: c.DeviceType,
		SeqNo:      c.seq,
	}
	h.SetTime(ts)
	return h
}

// Send 发送单个数据包, ts为零值时不带时间戳.
func (c *Client) Send(dest net.Addr, path string, confirmable bool, ts time.Time, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := Packet{Header: c.header(ts), Data: data}
	if p.Data == nil {
		p.Data = []byte{}
	}
	return c.send(dest, path, confirmable, &p, coap.ResponseHandlerFunc(c.handleResponse))
}

func (c *Client) send(dest net.Addr, path string, confirmable bool, p *Packet, h coap.ResponseHandler) error {
	b, err := c.codec().Append(nil, p)
	if err != nil {
		return err
	}
	if len(b) > MaxPacketSize {
		return errors.Wrapf(ErrPacketTooLarge, "%d bytes", len(b))
	}

	typ := coap.NonConfirmable
	if confirmable {
		typ = coap.Confirmable
	}
	if err = coap.Send(c.Transport, typ, coap.PUT, dest, path, b, h); err != nil {
		return err
	}
	c.seq++
	return nil
}

// SendBlock 将data编码为数据包并以块传输发送.
//
// 编码缓冲区归传输所有, 在传输结束时回收.
func (c *Client) SendBlock(dest net.Addr, path string, ts time.Time, data []byte, szx coap.BlockSzx, fn coap.FinalizeFunc) (*coap.BlockTransfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := Packet{Header: c.header(ts), Data: data}
	if p.Data == nil {
		p.Data = []byte{}
	}
	buf := c.getBuffer(len(data) + blockHeadroom)
	buf, err := c.codec().Append(buf[:0], &p)
	if err != nil {
		c.putBuffer(buf)
		return nil, err
	}
	return c.startBlock(dest, path, buf, true, szx, fn)
}

// SendBlockBuffer 以块传输发送已编码的buf, buf归调用者所有,
// 在fn被调用前不能修改.
func (c *Client) SendBlockBuffer(dest net.Addr, path string, buf []byte, szx coap.BlockSzx, fn coap.FinalizeFunc) (*coap.BlockTransfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startBlock(dest, path, buf, false, szx, fn)
}

func (c *Client) startBlock(dest net.Addr, path string, buf []byte, owned bool, szx coap.BlockSzx, fn coap.FinalizeFunc) (*coap.BlockTransfer, error) {
	bt := &coap.BlockTransfer{
		Code:       coap.PUT,
		Type:       coap.Confirmable,
		Path:       path,
		ETag:       c.seq,
		Payload:    buf,
		Szx:        szx,
		OwnsBuffer: owned,
		Finalize:   fn,
	}
	if owned {
		bt.Release = c.putBuffer
	}
	if err := coap.StartBlockwiseTransfer(c.Transport, dest, bt, coap.ResponseHandlerFunc(c.handleBlockResponse)); err != nil {
		if owned {
			c.putBuffer(buf)
		}
		return nil, err
	}
	c.seq++
	return bt, nil
}

func (c *Client) handleResponse(arg interface{}, resp *coap.Message, info *coap.MessageInfo, result error) {
	if result == nil && resp.Code() == coap.NotFound {
		c.discover(info.PeerAddr)
	}
	if c.Handler != nil {
		c.Handler.HandleResponse(arg, resp, info, result)
		return
	}
	if result != nil {
		glog.Warningf("gateway: request to %s: %v", info.PeerAddr, result)
	}
}

func (c *Client) handleBlockResponse(arg interface{}, resp *coap.Message, info *coap.MessageInfo, result error) {
	if result == nil && resp.Code() == coap.NotFound {
		c.discover(info.PeerAddr)
	}
	coap.DefaultBlockResponseHandler.HandleResponse(arg, resp, info, result)
}

// discover 向peer发送非可靠的发现包.
func (c *Client) discover(peer net.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := Packet{Header: c.header(time.Time{}), Discovery: c.DiscoveryAddr}
	h := coap.ResponseHandlerFunc(func(arg interface{}, resp *coap.Message, info *coap.MessageInfo, result error) {
		if result != nil {
			glog.V(1).Infof("gateway: discovery to %s: %v", info.PeerAddr, result)
		}
	})
	if err := c.send(peer, DiscoveryPath, false, &p, h); err != nil {
		glog.Warningf("gateway: send discovery to %s: %v", peer, err)
		return
	}
	glog.Infof("gateway: sent discovery %q to %s", c.DiscoveryAddr, peer)
}

func (c *Client) getBuffer(n int) []byte {
	if v, ok := c.bufs.Get().(*[]byte); ok && cap(*v) >= n {
		return (*v)[:0]
	}
	return make([]byte, 0, n)
}

func (c *Client) putBuffer(b []byte) {
	b = b[:0]
	c.bufs.Put(&b)
}
