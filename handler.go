package coap

// Handler 响应COAP请求的接口
type Handler interface {
	ServeCOAP(ResponseWriter, *Request)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ResponseWriter, *Request)

func (f HandlerFunc) ServeCOAP(w ResponseWriter, r *Request) {
	f(w, r)
}

// ResponseWriter 用于构造COAP响应
type ResponseWriter interface {
	// Ack 回复空ACK, 服务器无法立即响应的情况下, 可先调用该方法返回一个空的ACK,
	// 之后的响应以单独响应发送
	Ack()

	// SetConfirmable 设置响应为可靠消息, 作为单独响应或处理非可靠消息时生效
	SetConfirmable()

	// Options 返回Options
	Options() *Options

	// WriteCode 写入响应状态码, 默认为Content
	WriteCode(Code)

	// Write 写入payload
	Write([]byte) (int, error)
}
