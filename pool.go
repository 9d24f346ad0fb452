package coap

import "sync"

// messagePool 限制同时存在的消息数.
//
// 消息不复用: 可靠传输层保存的重传副本与负载共享存储, 释放时只归还计数.
type messagePool struct {
	mu      sync.Mutex
	limit   int
	payload int
	used    int
}

func (p *messagePool) alloc() *Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used >= p.limit {
		return nil
	}
	p.used++
	m := NewMessage(p.payload)
	m.pool = p
	return m
}

// free 归还m, 重复释放或释放不属于p的消息被忽略.
func (p *messagePool) free(m *Message) {
	if m == nil {
		return
	}
	p.mu.Lock()
	if m.pool != p {
		p.mu.Unlock()
		return
	}
	m.pool = nil
	p.used--
	p.mu.Unlock()
	m.reset()
}

func (p *messagePool) inUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}
