package coap

import "net"

// IsUnspecified 报告addr是否为未指定地址(nil, :: 或 0.0.0.0).
func IsUnspecified(addr net.Addr) bool {
	switch a := addr.(type) {
	case nil:
		return true
	case *net.UDPAddr:
		return a == nil || a.IP == nil || a.IP.IsUnspecified()
	case *net.IPAddr:
		return a == nil || a.IP == nil || a.IP.IsUnspecified()
	}
	return false
}

func addrKey(addr net.Addr) string {
	return addr.Network() + "/" + addr.String()
}
