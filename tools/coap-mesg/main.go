package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/nrfthread/coapblock/internal/stack/base"
	"github.com/nrfthread/coapblock/tools/coaputil"
)

// Args 手工构造单个COAP数据报, 用于探测对端的块传输处理.
type Args struct {
	Addr          string
	Type          int
	Code          int
	MessageID     int
	Token         string
	ETag          string
	Block1        string
	Options       coaputil.StringsValue
	EmptyOptions  coaputil.StringsValue
	UintOptions   coaputil.StringsValue
	StringOptions coaputil.StringsValue
	OpaqueOptions coaputil.StringsValue
	Payload       string
	Read          bool
	Timeout       time.Duration
}

func (p *Args) Parse(fs *flag.FlagSet, args []string) error {
	fs.StringVar(&p.Addr, "addr", "localhost:5683", "address")
	fs.IntVar(&p.Type, "type", 0, "message type")
	fs.IntVar(&p.Code, "code", int(base.PUT), "message code")
	fs.IntVar(&p.MessageID, "id", 0, "message id")
	fs.StringVar(&p.Token, "token", "", "hex token")
	fs.StringVar(&p.ETag, "etag", "", "hex etag")
	fs.StringVar(&p.Block1, "block1", "", "block1 option num/more/szx, e.g. 0/1/6")
	fs.Var(&p.Options, "option", "option")
	fs.Var(&p.EmptyOptions, "empty-option", "empty option")
	fs.Var(&p.UintOptions, "uint-option", "uint option")
	fs.Var(&p.StringOptions, "string-option", "string option")
	fs.Var(&p.OpaqueOptions, "opaque-option", "opaque option")
	fs.StringVar(&p.Payload, "payload", "", "message payload")
	fs.BoolVar(&p.Read, "read", false, "read message")
	fs.DurationVar(&p.Timeout, "timeout", 5*time.Second, "read timeout")
	var config string
	fs.StringVar(&config, "config", "", "yaml config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if config != "" {
		return coaputil.LoadConfig(fs, config)
	}
	return nil
}

// ParseBlock1 解析"num/more/szx", more为0或1.
func ParseBlock1(s string) (base.BlockOption, error) {
	ss := strings.Split(s, "/")
	if len(ss) != 3 {
		return base.BlockOption{}, fmt.Errorf("block1 format ill: %s", s)
	}
	num, err := strconv.ParseUint(ss[0], 10, 20)
	if err != nil {
		return base.BlockOption{}, err
	}
	more, err := strconv.ParseBool(ss[1])
	if err != nil {
		return base.BlockOption{}, err
	}
	szx, err := strconv.ParseUint(ss[2], 10, 3)
	if err != nil || szx > 6 {
		return base.BlockOption{}, fmt.Errorf("block1 szx ill: %s", ss[2])
	}
	return base.BlockOption{Num: uint32(num), More: more, Szx: uint32(szx)}, nil
}

func AddOptionsByName(m *base.Message, ss []string) error {
	for _, s := range ss {
		opt, err := coaputil.ParseOptionByName(s)
		if err != nil {
			return err
		}
		m.AddOption(opt.ID, opt.Value)
	}
	return nil
}

func AddOptionsByID(m *base.Message, format int, ss []string) error {
	for _, s := range ss {
		opt, err := coaputil.ParseOptionByID(format, s)
		if err != nil {
			return err
		}
		m.AddOption(opt.ID, opt.Value)
	}
	return nil
}

func AddOptions(m *base.Message, a *Args) (err error) {
	if a.ETag != "" {
		etag, err := hex.DecodeString(a.ETag)
		if err != nil {
			return err
		}
		m.AddOption(base.ETag, etag)
	}
	if a.Block1 != "" {
		b, err := ParseBlock1(a.Block1)
		if err != nil {
			return err
		}
		m.AddOption(base.Block1, b.Value())
	}
	if err = AddOptionsByName(m, a.Options); err != nil {
		return err
	}
	if err = AddOptionsByID(m, base.EmptyValue, a.EmptyOptions); err != nil {
		return err
	}
	if err = AddOptionsByID(m, base.UintValue, a.UintOptions); err != nil {
		return err
	}
	if err = AddOptionsByID(m, base.StringValue, a.StringOptions); err != nil {
		return err
	}
	if err = AddOptionsByID(m, base.OpaqueValue, a.OpaqueOptions); err != nil {
		return err
	}
	return nil
}

func MakeMessage(a *Args) (base.Message, error) {
	token, err := hex.DecodeString(a.Token)
	if err != nil {
		return base.Message{}, err
	}
	m := base.Message{
		Type:      uint8(a.Type),
		Code:      uint8(a.Code),
		MessageID: uint16(a.MessageID),
		Token:     string(token),
		Payload:   []byte(a.Payload),
	}
	if err := AddOptions(&m, a); err != nil {
		return base.Message{}, err
	}
	return m, nil
}

func WriteMessage(w io.Writer, m base.Message) error {
	data, err := m.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	glog.V(1).Infof("write %d bytes: %x", len(data), data)
	_, err = w.Write(data)
	return errors.Wrap(err, "write")
}

func ReadMessage(r io.Reader) (m base.Message, err error) {
	var buf [1500]byte
	n, err := r.Read(buf[:])
	if err != nil {
		return base.Message{}, errors.Wrap(err, "read")
	}
	glog.V(1).Infof("read %d bytes: %x", n, buf[:n])
	if err = m.Unmarshal(buf[:n]); err != nil {
		return base.Message{}, errors.Wrap(err, "unmarshal")
	}
	return m, nil
}

func PrintMessage(w io.Writer, m base.Message) {
	var mser base.MessageStringer
	fmt.Fprint(w, mser.MessageString(m))
}

func run(w io.Writer, args *Args) error {
	conn, err := net.Dial("udp", args.Addr)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	msg, err := MakeMessage(args)
	if err != nil {
		return errors.Wrap(err, "make message")
	}

	fmt.Fprintf(w, "coap server: %v\n", args.Addr)
	PrintMessage(w, msg)
	if err = WriteMessage(conn, msg); err != nil {
		return err
	}
	if !args.Read {
		return nil
	}

	conn.SetReadDeadline(time.Now().Add(args.Timeout))
	rmsg, err := ReadMessage(conn)
	if err != nil {
		return err
	}
	PrintMessage(w, rmsg)
	return nil
}

func main() {
	defer glog.Flush()

	var args Args
	if err := args.Parse(flag.CommandLine, os.Args[1:]); err != nil {
		fmt.Printf("parse args: %v\n", err)
		os.Exit(2)
	}
	if err := run(os.Stdout, &args); err != nil {
		fmt.Println(err)
		glog.Flush()
		os.Exit(1)
	}
}
