package coap

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// Resolver 通过指定的DNS服务器解析对端地址, 优先使用IPv6地址.
type Resolver struct {
	Server  string        // DNS服务器地址, 如"[fd00::53]:53"
	Timeout time.Duration // 单次查询超时, 0表示5秒
}

// ResolveUDPAddr 解析"host[:port]", 未指定端口时使用DefaultPort.
// host为IP地址时不查询DNS.
func (r *Resolver) ResolveUDPAddr(ctx context.Context, hostport string) (*net.UDPAddr, error) {
	if ip := net.ParseIP(hostport); ip != nil {
		return &net.UDPAddr{IP: ip, Port: DefaultPort}, nil
	}
	host, port, err := splitHostPort(hostport)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %q", hostport)
	}
	if port == 0 {
		port = DefaultPort
	}
	if ip := net.ParseIP(host); ip != nil {
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	}

	var lastErr error
	for _, qtype := range []uint16{dns.TypeAAAA, dns.TypeA} {
		ip, err := r.lookup(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		if ip != nil {
			glog.V(1).Infof("resolve %s: %s", host, ip)
			return &net.UDPAddr{IP: ip, Port: int(port)}, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no address")
	}
	return nil, errors.Wrapf(lastErr, "resolve %q", host)
}

func (r *Resolver) lookup(ctx context.Context, host string, qtype uint16) (net.IP, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &dns.Client{Net: "udp", Timeout: timeout}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	in, _, err := c.ExchangeContext(ctx, m, r.server())
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, errors.Errorf("%s query: %s", dns.TypeToString[qtype], dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		switch v := rr.(type) {
		case *dns.AAAA:
			return v.AAAA, nil
		case *dns.A:
			return v.A, nil
		}
	}
	return nil, nil
}

func (r *Resolver) server() string {
	if _, _, err := net.SplitHostPort(r.Server); err == nil {
		return r.Server
	}
	return net.JoinHostPort(r.Server, strconv.Itoa(53))
}
