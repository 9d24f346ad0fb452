package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"time"

	"github.com/golang/glog"

	coap "github.com/nrfthread/coapblock"
	"github.com/nrfthread/coapblock/gateway"
	"github.com/nrfthread/coapblock/tools/coaputil"
	"github.com/nrfthread/coapblock/transport/serialconn"
)

type Options struct {
	Addr          string
	DNSServer     string
	Serial        string
	Baud          int
	Path          string
	Szx           int
	Size          int
	InFile        string
	Interval      time.Duration
	Count         int
	Timeout       time.Duration
	Codec         string
	DeviceID      string
	DeviceType    string
	DiscoveryAddr string
}

func (a *Options) Parse(fs *flag.FlagSet, args []string) error {
	var config string
	fs.StringVar(&a.Addr, "addr", "", "gateway address host[:port]")
	fs.StringVar(&a.DNSServer, "dns", "", "dns server used to resolve -addr")
	fs.StringVar(&a.Serial, "serial", "", "send over a SLIP serial link instead of udp")
	fs.IntVar(&a.Baud, "baud", 115200, "serial baud rate")
	fs.StringVar(&a.Path, "path", "data", "resource path")
	fs.IntVar(&a.Szx, "szx", int(coap.MaxBlockSzx), "block size exponent, size = 1 << (szx + 4)")
	fs.IntVar(&a.Size, "size", 1024, "bytes of generated data when -in-file is not given")
	fs.StringVar(&a.InFile, "in-file", "", "file to upload")
	fs.DurationVar(&a.Interval, "interval", 0, "upload period, 0 uploads once")
	fs.IntVar(&a.Count, "count", 0, "number of uploads when -interval is set, 0 is unlimited")
	fs.DurationVar(&a.Timeout, "timeout", time.Minute, "cancel a transfer not finished in time")
	fs.StringVar(&a.Codec, "codec", "proto", "packet codec: proto or cbor")
	fs.StringVar(&a.DeviceID, "device-id", "", "6 byte hex device id, derived from the machine id by default")
	fs.StringVar(&a.DeviceType, "device-type", "coap-block", "device type")
	fs.StringVar(&a.DiscoveryAddr, "discovery", "", "address announced in discovery packets")
	fs.StringVar(&config, "config", "", "yaml config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if config != "" {
		if err := coaputil.LoadConfig(fs, config); err != nil {
			return err
		}
	}
	if a.Addr == "" && a.Serial == "" {
		return fmt.Errorf("no -addr or -serial")
	}
	if a.Szx < 0 || a.Szx > int(coap.MaxBlockSzx) {
		return fmt.Errorf("szx out of range: %d", a.Szx)
	}
	return nil
}

func (a *Options) payload() ([]byte, error) {
	if a.InFile != "" {
		return ioutil.ReadFile(a.InFile)
	}
	p := make([]byte, a.Size)
	for i := range p {
		p[i] = byte(i)
	}
	return p, nil
}

func (a *Options) deviceID() ([]byte, error) {
	if a.DeviceID != "" {
		return gateway.ParseDeviceID(a.DeviceID)
	}
	return gateway.DeviceID("coap-block")
}

// open 返回端点和目的地址.
func (a *Options) open() (*coap.Endpoint, net.Addr, error) {
	if a.Serial != "" {
		c, err := serialconn.Open(serialconn.Config{Name: a.Serial, Baud: a.Baud, ReadTimeout: 100 * time.Millisecond})
		if err != nil {
			return nil, nil, err
		}
		return coap.NewEndpoint(c), c.RemoteAddr(), nil
	}

	var dest *net.UDPAddr
	var err error
	if a.DNSServer != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r := &coap.Resolver{Server: a.DNSServer}
		dest, err = r.ResolveUDPAddr(ctx, a.Addr)
	} else {
		dest, err = net.ResolveUDPAddr("udp", a.Addr)
	}
	if err != nil {
		return nil, nil, err
	}
	network := "udp4"
	if dest.IP.To4() == nil {
		network = "udp6"
	}
	ep, err := coap.Listen(network, ":0")
	if err != nil {
		return nil, nil, err
	}
	return ep, dest, nil
}

type result struct {
	code coap.Code
	err  error
}

// upload 发送一次数据并等待传输结束, 超时后取消传输.
func upload(c *gateway.Client, dest net.Addr, a *Options, data []byte) error {
	done := make(chan result, 1)
	start := time.Now()
	bt, err := c.SendBlock(dest, a.Path, start, data, coap.BlockSzx(a.Szx), func(code coap.Code, err error) {
		done <- result{code: code, err: err}
	})
	if err != nil {
		return err
	}

	t := time.NewTimer(a.Timeout)
	defer t.Stop()
	var r result
	select {
	case r = <-done:
	case <-t.C:
		bt.Cancel()
		r = <-done
	}
	if r.err != nil {
		return r.err
	}
	glog.Infof("etag %d: %d bytes sent to %s in %v (%s)", bt.ETag, len(data), dest, time.Since(start), r.code)
	return nil
}

func run(a *Options) error {
	data, err := a.payload()
	if err != nil {
		return err
	}
	id, err := a.deviceID()
	if err != nil {
		return err
	}
	codec, err := gateway.CodecByName(a.Codec)
	if err != nil {
		return err
	}
	ep, dest, err := a.open()
	if err != nil {
		return err
	}
	defer ep.Close()

	c := &gateway.Client{
		Transport:     ep,
		DeviceID:      id,
		DeviceType:    a.DeviceType,
		DiscoveryAddr: a.DiscoveryAddr,
		Codec:         codec,
	}
	if a.Interval <= 0 {
		return upload(c, dest, a, data)
	}

	tick := time.NewTicker(a.Interval)
	defer tick.Stop()
	for n := 0; a.Count == 0 || n < a.Count; n++ {
		if err = upload(c, dest, a, data); err != nil {
			glog.Errorf("upload %d: %v", n, err)
		}
		<-tick.C
	}
	return nil
}

func main() {
	defer glog.Flush()

	var opts Options
	if err := opts.Parse(flag.CommandLine, os.Args[1:]); err != nil {
		fmt.Printf("parse options: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}
	if err := run(&opts); err != nil {
		glog.Errorf("coap-block: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}
