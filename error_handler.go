package coap

import (
	"github.com/golang/glog"

	"github.com/nrfthread/coapblock/internal/stack/base"
)

// rejection 对无法解析的消息的处理方式
type rejection int

const (
	rejectIgnore rejection = iota
	rejectRST
	rejectBadOption
)

func (r rejection) String() string {
	switch r {
	case rejectRST:
		return "rst"
	case rejectBadOption:
		return "4.02"
	}
	return "ignore"
}

// classifyRejection 决定如何回应解析失败的消息m.
// 空消息和非CON的响应不回应; CON请求带无法识别的关键选项时回复4.02 ACK,
// 其余请求和CON响应回复RST.
func classifyRejection(m base.Message, err error) rejection {
	if m.Type != base.CON && m.Type != base.NON {
		return rejectIgnore
	}
	if m.Code == 0 {
		return rejectIgnore
	}

	badOptions := false
	if e, ok := err.(base.BadOptionsError); ok && e.BadOptions() {
		badOptions = true
	} else if e, ok := err.(base.MessageFormatError); !ok || !e.FormatError() {
		return rejectIgnore
	}

	switch class := m.Code >> 5; {
	case class == 0:
		if m.Type == base.CON && badOptions {
			return rejectBadOption
		}
		return rejectRST
	case class >= 2 && class <= 5:
		if m.Type == base.CON {
			return rejectRST
		}
		return rejectIgnore
	default:
		glog.Warningf("reserved code %d.%02d from malformed message", class, m.Code&0x1f)
		return rejectIgnore
	}
}

// handleError 处理无法解析的消息.
func handleError(s *session, m base.Message, err error) {
	r := classifyRejection(m, err)
	glog.V(1).Infof("malformed %s: %v, reply %s", m, err, r)

	var serr error
	switch r {
	case rejectRST:
		serr = s.directSendRST(m.MessageID)
	case rejectBadOption:
		serr = s.directSendBadOptionACK(m.MessageID, m.Token)
	}
	if serr != nil {
		glog.Warningf("reject malformed message %d: %v", m.MessageID, serr)
	}
}
