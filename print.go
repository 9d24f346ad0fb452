package coap

import (
	"fmt"
	"io"
)

func PrintRequest(w io.Writer, r *Request, body bool) {
	fmt.Fprintf(w, "CON[%t] %s /%s", r.Confirmable, r.Method, r.Path())
	if r.RemoteAddr != nil {
		fmt.Fprintf(w, " from %s", r.RemoteAddr)
	}
	fmt.Fprintln(w)
	r.Options.Write(w)
	if body {
		fmt.Fprintf(w, "\n%s\n", r.Payload)
	}
}

func PrintResponse(w io.Writer, m *Message, info *MessageInfo, body bool) {
	fmt.Fprintf(w, "%s %s", m.Type(), m.Code())
	if info != nil && info.PeerAddr != nil {
		fmt.Fprintf(w, " from %s", info.PeerAddr)
	}
	fmt.Fprintln(w)
	m.Options().Write(w)
	if body {
		fmt.Fprintf(w, "\n%s\n", m.Payload())
	}
}
