package coap

import (
	"fmt"
	"net"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/nrfthread/coapblock/internal/stack/base"
)

const opBlockTransfer = "block transfer"

// TransferState 块传输状态
type TransferState int

const (
	Idle TransferState = iota
	AwaitingBlockAck
	Complete
	Failed
	Canceled
)

var transferStateNames = [...]string{
	Idle:             "Idle",
	AwaitingBlockAck: "AwaitingBlockAck",
	Complete:         "Complete",
	Failed:           "Failed",
	Canceled:         "Canceled",
}

func (s TransferState) String() string {
	if s >= 0 && int(s) < len(transferStateNames) {
		return transferStateNames[s]
	}
	return fmt.Sprintf("TransferState(%d)", int(s))
}

func (s TransferState) terminal() bool {
	return s == Complete || s == Failed || s == Canceled
}

// FinalizeFunc 块传输结束回调, 每个传输恰好调用一次.
//
// 成功时result为nil; 被拒绝时code为对端的4.xx状态码.
type FinalizeFunc func(code Code, result error)

// BlockTransfer 一次Block1块传输的上下文.
//
// 调用者填写导出字段后调用StartBlockwiseTransfer. 同一时刻只有一个块在途,
// 下一块只在收到2.31 Continue后发送.
type BlockTransfer struct {
	Code    Code   // 请求方法, 为0时使用PUT
	Type    Type   // 消息类型, 零值为CON
	Path    string // 目标资源路径
	ETag    uint32 // 传输标识, 以4字节ETag选项携带在每个块中
	Options Options

	Payload     []byte
	Szx         BlockSzx
	BlockNumber uint32 // 下一个要发送的块号

	// OwnsBuffer为true时, 传输结束时调用Release释放Payload
	OwnsBuffer bool
	Release    func([]byte)

	Finalize FinalizeFunc

	mu        sync.Mutex
	state     TransferState
	transport Transport
	handler   ResponseHandler
}

// State 返回传输状态.
func (bt *BlockTransfer) State() TransferState {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.state
}

// Cancel 结束传输, Finalize以ErrCanceled被调用. 传输已结束时返回false.
//
// 在途块的数据已复制到消息中, 因此Cancel后可以立即释放Payload;
// 之后到达的响应被忽略.
func (bt *BlockTransfer) Cancel() bool {
	return bt.finalize(0, newError(opBlockTransfer, ErrCanceled, 0, nil), Canceled)
}

// StartBlockwiseTransfer 发送bt.BlockNumber指定的块.
//
// 块号在发送前递增, 收到Continue时h以同一bt再次调用本函数发送下一块.
// h为nil时使用DefaultBlockResponseHandler.
//
// 同步返回的错误不会触发Finalize: ErrAddressInvalid, ErrInvalidArgs,
// ErrResourceExhausted或ErrSendFailed. 第一块发送失败时状态和块号都恢复原值,
// 可直接以同一bt重试.
func StartBlockwiseTransfer(t Transport, dest net.Addr, bt *BlockTransfer, h ResponseHandler) error {
	if IsUnspecified(dest) {
		return newError(opBlockTransfer, ErrAddressInvalid, 0, nil)
	}
	if t == nil || bt == nil {
		return newError(opBlockTransfer, ErrInvalidArgs, 0, errors.New("nil transport or transfer"))
	}
	if h == nil {
		h = ResponseHandlerFunc(blockResponseHandler)
	}

	bt.mu.Lock()
	prev := bt.state
	m, err := bt.prepare(t)
	if err != nil {
		bt.mu.Unlock()
		return err
	}
	num := bt.BlockNumber
	bt.BlockNumber++
	bt.state = AwaitingBlockAck
	bt.transport = t
	bt.handler = h
	bt.mu.Unlock()

	if err = t.SendRequest(m, dest, h, bt); err != nil {
		t.FreeMessage(m)
		if prev == Idle {
			bt.mu.Lock()
			if bt.state == AwaitingBlockAck {
				bt.state = Idle
				bt.BlockNumber = num
			}
			bt.mu.Unlock()
		}
		return newError(opBlockTransfer, ErrSendFailed, 0, err)
	}
	glog.V(2).Infof("block transfer etag %d: sent block %d to %s", bt.ETag, num, dest)
	return nil
}

// prepare 在持有bt.mu时分配并构造当前块的消息.
func (bt *BlockTransfer) prepare(t Transport) (*Message, error) {
	if bt.state.terminal() {
		return nil, newError(opBlockTransfer, ErrInvalidArgs, 0, errors.Errorf("transfer %s", bt.state))
	}
	if bt.Szx > MaxBlockSzx {
		return nil, newError(opBlockTransfer, ErrInvalidArgs, 0, errors.Errorf("block szx %d", bt.Szx))
	}
	opt, block, err := base.BlockBuffer(bt.Payload).Read(bt.BlockNumber, uint32(bt.Szx))
	if err != nil {
		return nil, newError(opBlockTransfer, ErrInvalidArgs, 0,
			errors.Errorf("block %d out of range for %d bytes", bt.BlockNumber, len(bt.Payload)))
	}

	m := t.NewMessage()
	if m == nil {
		return nil, newError(opBlockTransfer, ErrResourceExhausted, 0, nil)
	}
	if err = bt.build(m, opt.More, block); err != nil {
		t.FreeMessage(m)
		return nil, newError(opBlockTransfer, ErrSendFailed, 0, err)
	}
	return m, nil
}

func (bt *BlockTransfer) build(m *Message, more bool, block []byte) error {
	code := bt.Code
	if code == 0 {
		code = PUT
	}
	m.Init(bt.Type, code)
	if err := m.GenerateToken(DefaultTokenLength); err != nil {
		return err
	}
	if err := m.AppendOption(ETag, ETagValue(bt.ETag)); err != nil {
		return err
	}
	if err := m.AppendURIPathOptions(bt.Path); err != nil {
		return err
	}
	for _, o := range bt.Options {
		if err := m.AppendOption(OptionID(o.ID), o.Value); err != nil {
			return err
		}
	}
	if err := m.AppendBlock1Option(bt.BlockNumber, more, bt.Szx); err != nil {
		return err
	}
	if err := m.SetPayloadMarker(); err != nil {
		return err
	}
	return m.Append(block)
}

// finalize 进入终止状态并调用Finalize, 只有第一次调用生效.
func (bt *BlockTransfer) finalize(code Code, result error, to TransferState) bool {
	bt.mu.Lock()
	if bt.state.terminal() {
		bt.mu.Unlock()
		return false
	}
	bt.state = to
	if bt.OwnsBuffer && bt.Payload != nil {
		if bt.Release != nil {
			bt.Release(bt.Payload)
		}
		bt.Payload = nil
	}
	fn := bt.Finalize
	bt.mu.Unlock()

	glog.V(1).Infof("block transfer etag %d: %s %s %v", bt.ETag, to, code, result)
	if fn != nil {
		fn(code, result)
	}
	return true
}

// DefaultBlockResponseHandler 块传输的默认响应处理:
//
//   - 传输失败: 以ErrTransportFailure结束
//   - 2.31 Continue: 向响应来源发送下一块
//   - 2.04 Changed: 传输完成
//   - 4.xx: 以ErrRemoteRejected结束
//   - 其它响应被忽略
var DefaultBlockResponseHandler ResponseHandler = ResponseHandlerFunc(blockResponseHandler)

func blockResponseHandler(arg interface{}, resp *Message, info *MessageInfo, result error) {
	bt, ok := arg.(*BlockTransfer)
	if !ok {
		glog.Errorf("block response handler: unexpected context %T", arg)
		return
	}
	if st := bt.State(); st != AwaitingBlockAck {
		glog.V(1).Infof("block transfer etag %d: ignore response in state %s", bt.ETag, st)
		return
	}

	if result != nil {
		bt.finalize(0, newError(opBlockTransfer, ErrTransportFailure, 0, result), Failed)
		return
	}

	code := resp.Code()
	switch {
	case code.Class() == 2 && code.Detail() == 31:
		bt.mu.Lock()
		t, h := bt.transport, bt.handler
		bt.mu.Unlock()
		if err := StartBlockwiseTransfer(t, info.PeerAddr, bt, h); err != nil {
			glog.Warningf("block transfer etag %d: continue: %v", bt.ETag, err)
			bt.finalize(code, err, Failed)
		}
	case code.Class() == 2 && code.Detail() == 4:
		bt.finalize(code, nil, Complete)
	case code.Class() == 4:
		bt.finalize(code, newError(opBlockTransfer, ErrRemoteRejected, code, nil), Failed)
	default:
		glog.Warningf("block transfer etag %d: ignore response %s", bt.ETag, code)
	}
}
