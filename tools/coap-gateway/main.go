package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	coap "github.com/nrfthread/coapblock"
	"github.com/nrfthread/coapblock/gateway"
	"github.com/nrfthread/coapblock/tools/coaputil"
	"github.com/nrfthread/coapblock/transport/serialconn"
)

type Options struct {
	Listen  string
	Serial  string
	Baud    int
	Codec   string
	Sinks   coaputil.StringsValue
	Dir     string
	MQTT    string
	QoS     int
	MaxSize int
	TTL     time.Duration
}

func (a *Options) Parse(fs *flag.FlagSet, args []string) error {
	var config string
	fs.StringVar(&a.Listen, "listen", fmt.Sprintf(":%d", coap.DefaultPort), "udp listen address")
	fs.StringVar(&a.Serial, "serial", "", "serve a SLIP serial link instead of udp")
	fs.IntVar(&a.Baud, "baud", 115200, "serial baud rate")
	fs.StringVar(&a.Codec, "codec", "", "decode packets with codec: proto or cbor, empty keeps raw payloads")
	fs.Var(&a.Sinks, "sink", "sink: log, dir or mqtt (repeatable)")
	fs.StringVar(&a.Dir, "dir", ".", "output directory of the dir sink")
	fs.StringVar(&a.MQTT, "mqtt", "mqtt://127.0.0.1:1883/coap", "broker url of the mqtt sink")
	fs.IntVar(&a.QoS, "qos", 0, "mqtt qos")
	fs.IntVar(&a.MaxSize, "max-size", gateway.DefaultMaxTransferSize, "max reassembled transfer size")
	fs.DurationVar(&a.TTL, "ttl", gateway.DefaultAssemblyTTL, "drop incomplete transfers after")
	fs.StringVar(&config, "config", "", "yaml config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if config != "" {
		if err := coaputil.LoadConfig(fs, config); err != nil {
			return err
		}
	}
	if len(a.Sinks) == 0 {
		a.Sinks = coaputil.StringsValue{"log"}
	}
	return nil
}

// sinks 按配置构造Sink, 返回的函数关闭MQTT连接.
func (a *Options) sinks() (gateway.Sink, func(), error) {
	var codec gateway.Codec
	if a.Codec != "" {
		c, err := gateway.CodecByName(a.Codec)
		if err != nil {
			return nil, nil, err
		}
		codec = c
	}

	var ms gateway.MultiSink
	closer := func() {}
	for _, name := range a.Sinks {
		switch name {
		case "log":
			ms = append(ms, gateway.LogSink{Codec: codec})
		case "dir":
			if err := os.MkdirAll(a.Dir, 0755); err != nil {
				return nil, nil, err
			}
			ms = append(ms, gateway.DirSink{Dir: a.Dir})
		case "mqtt":
			s, client, err := gateway.DialMQTT(a.MQTT, codec, 10*time.Second)
			if err != nil {
				return nil, nil, err
			}
			s.QoS = byte(a.QoS)
			ms = append(ms, s)
			closer = func() { client.Disconnect(250) }
		default:
			return nil, nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return ms, closer, nil
}

func (a *Options) conn() (net.PacketConn, error) {
	if a.Serial != "" {
		return serialconn.Open(serialconn.Config{Name: a.Serial, Baud: a.Baud, ReadTimeout: 100 * time.Millisecond})
	}
	return net.ListenPacket("udp", a.Listen)
}

func run(a *Options) error {
	sink, closeSinks, err := a.sinks()
	if err != nil {
		return err
	}
	defer closeSinks()

	conn, err := a.conn()
	if err != nil {
		return err
	}
	asm := &gateway.Assembler{Sink: sink, MaxSize: a.MaxSize, TTL: a.TTL}
	ep := coap.NewEndpoint(conn, coap.WithHandler(asm))
	defer ep.Close()
	glog.Infof("coap-gateway serving on %s", ep.LocalAddr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
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
		glog.Errorf("coap-gateway: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}
