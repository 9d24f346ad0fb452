package gateway

import (
	"encoding/hex"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	coap "github.com/nrfthread/coapblock"
)

const (
	// DefaultMaxTransferSize 单次传输重组后的大小上限
	DefaultMaxTransferSize = 64 * 1024

	// DefaultAssemblyTTL 未完成传输的保留时间
	DefaultAssemblyTTL = 2 * time.Minute
)

// Transfer 接收完成的一次传输
type Transfer struct {
	Peer     net.Addr
	Path     string
	ETag     []byte
	Payload  []byte
	Received time.Time
}

// Sink 接收重组完成的传输.
type Sink interface {
	Deliver(t *Transfer) error
}

// SinkFunc 函数适配器
type SinkFunc func(t *Transfer) error

func (f SinkFunc) Deliver(t *Transfer) error {
	return f(t)
}

type partial struct {
	next    uint32
	buf     []byte
	updated time.Time
}

// Assembler 接收Block1块传输并重组, 实现coap.Handler.
//
// 传输以(对端地址, ETag, 路径)区分. 块必须按顺序到达,
// 不带Block1选项的请求作为完整传输直接交付.
type Assembler struct {
	Sink    Sink
	MaxSize int           // 为0时使用DefaultMaxTransferSize
	TTL     time.Duration // 为0时使用DefaultAssemblyTTL

	// 测试使用
	now func() time.Time

	mu      sync.Mutex
	partial map[string]*partial
}

func (a *Assembler) maxSize() int {
	if a.MaxSize <= 0 {
		return DefaultMaxTransferSize
	}
	return a.MaxSize
}

func (a *Assembler) ttl() time.Duration {
	if a.TTL <= 0 {
		return DefaultAssemblyTTL
	}
	return a.TTL
}

func (a *Assembler) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

// Pending 返回未完成的传输数.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.partial)
}

func (a *Assembler) ServeCOAP(w coap.ResponseWriter, r *coap.Request) {
	etag, _ := r.ETag()
	b, ok := r.Block1()
	if !ok {
		a.deliver(w, &Transfer{Peer: r.RemoteAddr, Path: r.Path(), ETag: etag, Payload: r.Payload})
		return
	}

	now := a.clock()
	key := transferKey(r.RemoteAddr, etag, r.Path())

	a.mu.Lock()
	a.expire(now)
	p := a.partial[key]
	if b.Num == 0 {
		p = &partial{}
		a.partial[key] = p
	} else if p == nil || b.Num != p.next {
		delete(a.partial, key)
		a.mu.Unlock()
		glog.Warningf("assembler: %s etag %x: unexpected block %d", r.RemoteAddr, etag, b.Num)
		w.WriteCode(coap.RequestEntityIncomplete)
		return
	}

	if len(p.buf)+len(r.Payload) > a.maxSize() {
		delete(a.partial, key)
		a.mu.Unlock()
		glog.Warningf("assembler: %s etag %x: transfer exceeds %d bytes", r.RemoteAddr, etag, a.maxSize())
		w.Options().Set(coap.Size1, uint32(a.maxSize()))
		w.WriteCode(coap.RequestEntityTooLarge)
		return
	}
	p.buf = append(p.buf, r.Payload...)
	p.next++
	p.updated = now

	if b.More {
		a.mu.Unlock()
		w.Options().Set(coap.Block1, b.Value())
		w.WriteCode(coap.Continue)
		return
	}
	delete(a.partial, key)
	a.mu.Unlock()

	w.Options().Set(coap.Block1, b.Value())
	a.deliver(w, &Transfer{Peer: r.RemoteAddr, Path: r.Path(), ETag: etag, Payload: p.buf})
}

func (a *Assembler) deliver(w coap.ResponseWriter, t *Transfer) {
	t.Received = a.clock()
	if a.Sink != nil {
		if err := a.Sink.Deliver(t); err != nil {
			glog.Errorf("assembler: deliver %d bytes from %s: %v", len(t.Payload), t.Peer, err)
			w.WriteCode(coap.InternalServerError)
			return
		}
	}
	glog.V(1).Infof("assembler: delivered %d bytes from %s path %q", len(t.Payload), t.Peer, t.Path)
	w.WriteCode(coap.Changed)
}

// expire 在持有a.mu时调用.
func (a *Assembler) expire(now time.Time) {
	if a.partial == nil {
		a.partial = make(map[string]*partial)
		return
	}
	ttl := a.ttl()
	for k, p := range a.partial {
		if now.Sub(p.updated) > ttl {
			glog.V(1).Infof("assembler: drop stale transfer %s", k)
			delete(a.partial, k)
		}
	}
}

func transferKey(peer net.Addr, etag []byte, path string) string {
	s := ""
	if peer != nil {
		s = peer.String()
	}
	return s + "|" + hex.EncodeToString(etag) + "|" + path
}
