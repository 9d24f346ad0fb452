package coap_test

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	coap "github.com/nrfthread/coapblock"
)

func verifyNone(t *testing.T) {
	goleak.VerifyNone(t, goleak.IgnoreAnyFunction("github.com/golang/glog.(*loggingT).flushDaemon"))
}

func listen(t *testing.T, opts ...coap.EndpointOption) *coap.Endpoint {
	t.Helper()
	opts = append([]coap.EndpointOption{coap.WithTickInterval(5 * time.Millisecond)}, opts...)
	e, err := coap.Listen("udp", "127.0.0.1:0", opts...)
	require.NoError(t, err)
	return e
}

type result struct {
	code    coap.Code
	payload []byte
	peer    net.Addr
	err     error
}

func resultHandler(c chan<- result) coap.ResponseHandler {
	return coap.ResponseHandlerFunc(func(arg interface{}, resp *coap.Message, info *coap.MessageInfo, err error) {
		r := result{err: err, peer: info.PeerAddr}
		if resp != nil {
			r.code = resp.Code()
			r.payload = append([]byte(nil), resp.Payload()...)
		}
		c <- r
	})
}

func waitResult(t *testing.T, c <-chan result) result {
	t.Helper()
	select {
	case r := <-c:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("wait result timeout")
	}
	return result{}
}

// blockServer 按顺序接收Block1块
type blockServer struct {
	mu   sync.Mutex
	body bytes.Buffer
	etag []byte
}

func (s *blockServer) ServeCOAP(w coap.ResponseWriter, r *coap.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := r.Block1()
	if !ok {
		w.WriteCode(coap.BadRequest)
		return
	}
	s.etag, _ = r.ETag()
	s.body.Write(r.Payload)
	if b.More {
		w.Options().Set(coap.Block1, b.Value())
		w.WriteCode(coap.Continue)
		return
	}
	w.WriteCode(coap.Changed)
}

func (s *blockServer) Body() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.body.Bytes()...)
}

func TestEndpointBlockTransfer(t *testing.T) {
	defer verifyNone(t)

	var bs blockServer
	server := listen(t, coap.WithHandler(&bs))
	defer server.Close()
	client := listen(t)
	defer client.Close()

	done := make(chan result, 1)
	payload := makePayload(3000)
	bt := &coap.BlockTransfer{
		Path:    "gateway/data",
		ETag:    42,
		Payload: payload,
		Szx:     coap.BlockSzx1024,
		Finalize: func(code coap.Code, err error) {
			done <- result{code: code, err: err}
		},
	}
	require.NoError(t, coap.StartBlockwiseTransfer(client, server.LocalAddr(), bt, nil))

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, coap.Changed, r.code)
	assert.Equal(t, coap.Complete, bt.State())
	assert.Equal(t, uint32(3), bt.BlockNumber)
	assert.True(t, bytes.Equal(payload, bs.Body()))
	assert.Equal(t, coap.ETagValue(42), bs.etag)
}

func TestEndpointSend(t *testing.T) {
	defer verifyNone(t)

	h := coap.HandlerFunc(func(w coap.ResponseWriter, r *coap.Request) {
		w.WriteCode(coap.Changed)
		w.Write([]byte(r.Path()))
		w.Write(r.Payload)
	})
	server := listen(t, coap.WithHandler(h))
	defer server.Close()
	client := listen(t)
	defer client.Close()

	tests := []struct {
		typ coap.Type
	}{
		{typ: coap.Confirmable},
		{typ: coap.NonConfirmable},
	}
	for i, tt := range tests {
		c := make(chan result, 1)
		err := coap.Send(client, tt.typ, coap.PUT, server.LocalAddr(), "/echo", []byte(":hi"), resultHandler(c))
		require.NoError(t, err, "case%d", i)
		r := waitResult(t, c)
		require.NoError(t, r.err, "case%d", i)
		assert.Equal(t, coap.Changed, r.code, "case%d", i)
		assert.Equal(t, "echo:hi", string(r.payload), "case%d", i)
		assert.Equal(t, server.LocalAddr().String(), r.peer.String(), "case%d", i)
	}
}

func TestEndpointSeparateResponse(t *testing.T) {
	defer verifyNone(t)

	h := coap.HandlerFunc(func(w coap.ResponseWriter, r *coap.Request) {
		w.Ack()
		w.SetConfirmable()
		w.WriteCode(coap.Created)
	})
	server := listen(t, coap.WithHandler(h))
	defer server.Close()
	client := listen(t)
	defer client.Close()

	c := make(chan result, 1)
	require.NoError(t, coap.Send(client, coap.Confirmable, coap.POST, server.LocalAddr(), "x", nil, resultHandler(c)))
	r := waitResult(t, c)
	require.NoError(t, r.err)
	assert.Equal(t, coap.Created, r.code)
}

func TestEndpointReset(t *testing.T) {
	defer verifyNone(t)

	server := listen(t)
	defer server.Close()
	client := listen(t)
	defer client.Close()

	c := make(chan result, 1)
	require.NoError(t, coap.Send(client, coap.Confirmable, coap.GET, server.LocalAddr(), "x", nil, resultHandler(c)))
	r := waitResult(t, c)
	assert.True(t, errors.Is(r.err, coap.ErrReset), "%v", r.err)
}

func TestEndpointAckTimeout(t *testing.T) {
	defer verifyNone(t)

	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()
	client := listen(t, coap.WithAckTimeout(5*time.Millisecond))
	defer client.Close()

	c := make(chan result, 1)
	require.NoError(t, coap.Send(client, coap.Confirmable, coap.PUT, silent.LocalAddr(), "x", nil, resultHandler(c)))
	r := waitResult(t, c)
	assert.True(t, errors.Is(r.err, coap.ErrAckTimeout), "%v", r.err)

	// 初始发送加MAX_RETRANSMIT次重传
	buf := make([]byte, 1500)
	n := 0
	for {
		silent.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		if _, _, err := silent.ReadFrom(buf); err != nil {
			break
		}
		n++
	}
	assert.Equal(t, coap.MAX_RETRANSMIT+1, n)
}

func TestEndpointResponseTimeout(t *testing.T) {
	defer verifyNone(t)

	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()
	client := listen(t, coap.WithResponseTimeout(30*time.Millisecond))
	defer client.Close()

	c := make(chan result, 1)
	require.NoError(t, coap.Send(client, coap.NonConfirmable, coap.PUT, silent.LocalAddr(), "x", nil, resultHandler(c)))
	r := waitResult(t, c)
	assert.True(t, errors.Is(r.err, coap.ErrTimeout), "%v", r.err)
}

func TestEndpointMessageLimit(t *testing.T) {
	defer verifyNone(t)

	client := listen(t, coap.WithMaxMessages(1), coap.WithMaxPayload(8))
	defer client.Close()

	m := client.NewMessage()
	require.NotNil(t, m)
	assert.Nil(t, client.NewMessage())

	m.Init(coap.Confirmable, coap.PUT)
	require.NoError(t, m.SetPayloadMarker())
	assert.True(t, errors.Is(m.Append(make([]byte, 9)), coap.ErrNoBufs))

	client.FreeMessage(m)
	client.FreeMessage(m)
	m = client.NewMessage()
	require.NotNil(t, m)
	assert.Nil(t, client.NewMessage())
	client.FreeMessage(m)

	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	bt := &coap.BlockTransfer{Payload: makePayload(10), Szx: coap.BlockSzx16}
	err := coap.StartBlockwiseTransfer(client, peer, bt, nil)
	assert.True(t, errors.Is(err, coap.ErrSendFailed), "%v", err)
	assert.True(t, errors.Is(err, coap.ErrNoBufs), "%v", err)
	assert.Equal(t, uint32(0), bt.BlockNumber)
}

func TestEndpointAddressInvalid(t *testing.T) {
	defer verifyNone(t)

	client := listen(t)
	defer client.Close()

	m := client.NewMessage()
	m.Init(coap.Confirmable, coap.GET)
	err := client.SendRequest(m, &net.UDPAddr{IP: net.IPv6unspecified, Port: coap.DefaultPort}, nil, nil)
	assert.True(t, errors.Is(err, coap.ErrAddressInvalid), "%v", err)
	client.FreeMessage(m)

	err = coap.Send(client, coap.Confirmable, coap.GET, nil, "x", nil, nil)
	assert.True(t, errors.Is(err, coap.ErrAddressInvalid), "%v", err)
}

func TestEndpointClose(t *testing.T) {
	defer verifyNone(t)

	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()
	client := listen(t)

	c := make(chan result, 1)
	require.NoError(t, coap.Send(client, coap.Confirmable, coap.PUT, silent.LocalAddr(), "x", nil, resultHandler(c)))
	require.NoError(t, client.Close())
	r := waitResult(t, c)
	assert.True(t, errors.Is(r.err, coap.ErrClosed), "%v", r.err)

	err = coap.Send(client, coap.Confirmable, coap.PUT, silent.LocalAddr(), "x", nil, nil)
	assert.True(t, errors.Is(err, coap.ErrSendFailed), "%v", err)
	assert.True(t, errors.Is(err, coap.ErrClosed), "%v", err)
	assert.NoError(t, client.Close())
}
