package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"

	coap "github.com/nrfthread/coapblock"
	"github.com/nrfthread/coapblock/tools/coaputil"
)

type Options struct {
	Confirmable   bool
	Options       coaputil.StringsValue
	EmptyOptions  coaputil.StringsValue
	UintOptions   coaputil.StringsValue
	StringOptions coaputil.StringsValue
	OpaqueOptions coaputil.StringsValue
	Data          string
	InFile        string
	OutFile       string
	DNSServer     string
	Timeout       time.Duration
	Method        coap.Code
	URL           string
}

func ParseMethod(s string) (coap.Code, error) {
	switch strings.ToUpper(s) {
	case "GET":
		return coap.GET, nil
	case "POST":
		return coap.POST, nil
	case "PUT":
		return coap.PUT, nil
	case "DELETE":
		return coap.DELETE, nil
	default:
		return 0, fmt.Errorf("unknown coap method: %v", s)
	}
}

// usage
// coap-send -X PUT --option "Content-Format:50" --data '{"Name": "xx"}' url
func (a *Options) Parse(fs *flag.FlagSet, args []string) error {
	var err error
	var method, config string

	fs.BoolVar(&a.Confirmable, "con", false, "confirmable")
	fs.Var(&a.Options, "option", "option")
	fs.Var(&a.EmptyOptions, "empty-option", "empty option")
	fs.Var(&a.UintOptions, "uint-option", "uint option")
	fs.Var(&a.StringOptions, "string-option", "string option")
	fs.Var(&a.OpaqueOptions, "opaque-option", "opaque option")
	fs.StringVar(&a.Data, "data", "", "data")
	fs.StringVar(&a.InFile, "in-file", "", "in file")
	fs.StringVar(&a.OutFile, "out-file", "", "out file")
	fs.StringVar(&a.DNSServer, "dns", "", "dns server used to resolve the url host")
	fs.DurationVar(&a.Timeout, "timeout", coap.EXCHANGE_LIFETIME, "response timeout")
	fs.StringVar(&method, "X", "GET", "method")
	fs.StringVar(&config, "config", "", "yaml config file")
	if err = fs.Parse(args); err != nil {
		return err
	}
	if config != "" {
		if err = coaputil.LoadConfig(fs, config); err != nil {
			return err
		}
	}

	a.Method, err = ParseMethod(method)
	if err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("no url")
	}
	a.URL = rest[0]

	return nil
}

func MakePayload(data string, infile string) (payload []byte, err error) {
	if data != "" {
		return []byte(data), nil
	} else if infile != "" {
		payload, err = ioutil.ReadFile(infile)
		if err != nil {
			return nil, err
		}
		return payload, nil
	}
	return nil, nil
}

func AddOptions(r *coap.Request, a *Options) (err error) {
	if err = coaputil.AddOptionsByName(&r.Options, a.Options); err != nil {
		return err
	}
	if err = coaputil.AddOptionsByID(&r.Options, coaputil.EmptyValue, a.EmptyOptions); err != nil {
		return err
	}
	if err = coaputil.AddOptionsByID(&r.Options, coaputil.UintValue, a.UintOptions); err != nil {
		return err
	}
	if err = coaputil.AddOptionsByID(&r.Options, coaputil.StringValue, a.StringOptions); err != nil {
		return err
	}
	if err = coaputil.AddOptionsByID(&r.Options, coaputil.OpaqueValue, a.OpaqueOptions); err != nil {
		return err
	}
	return nil
}

func MakeRequest(a *Options) (*coap.Request, error) {
	payload, err := MakePayload(a.Data, a.InFile)
	if err != nil {
		return nil, err
	}
	req, err := coap.NewRequest(a.Confirmable, a.Method, a.URL, payload)
	if err != nil {
		return nil, err
	}
	if err = AddOptions(req, a); err != nil {
		return nil, err
	}
	return req, nil
}

func resolve(ctx context.Context, a *Options, req *coap.Request) (*net.UDPAddr, error) {
	if a.DNSServer != "" {
		r := &coap.Resolver{Server: a.DNSServer}
		return r.ResolveUDPAddr(ctx, req.URL.Host)
	}
	return net.ResolveUDPAddr("udp", req.URL.Host)
}

type reply struct {
	resp *coap.Message
	info *coap.MessageInfo
	err  error
}

func run(a *Options) error {
	req, err := MakeRequest(a)
	if err != nil {
		return fmt.Errorf("make request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()
	dest, err := resolve(ctx, a, req)
	if err != nil {
		return fmt.Errorf("resolve: %v", err)
	}

	network := "udp4"
	if dest.IP.To4() == nil {
		network = "udp6"
	}
	ep, err := coap.Listen(network, ":0", coap.WithResponseTimeout(a.Timeout))
	if err != nil {
		return err
	}
	defer ep.Close()

	coap.PrintRequest(os.Stdout, req, true)
	done := make(chan reply, 1)
	h := coap.ResponseHandlerFunc(func(arg interface{}, resp *coap.Message, info *coap.MessageInfo, result error) {
		done <- reply{resp: resp, info: info, err: result}
	})
	if err = coap.Do(ep, dest, req, h); err != nil {
		return fmt.Errorf("send request: %v", err)
	}
	r := <-done
	if r.err != nil {
		return fmt.Errorf("send request: %v", r.err)
	}
	coap.PrintResponse(os.Stdout, r.resp, r.info, true)

	if a.OutFile != "" {
		if err = ioutil.WriteFile(a.OutFile, r.resp.Payload(), 0664); err != nil {
			return fmt.Errorf("write file: %v", err)
		}
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
		fmt.Println(err)
		glog.Flush()
		os.Exit(1)
	}
}
