package gateway

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// LogSink 记录收到的传输, Codec非nil时解码包头.
type LogSink struct {
	Codec Codec
}

func (s LogSink) Deliver(t *Transfer) error {
	if s.Codec == nil {
		glog.Infof("%s %q etag %x: %d bytes", t.Peer, t.Path, t.ETag, len(t.Payload))
		return nil
	}
	var p Packet
	if err := s.Codec.Unmarshal(t.Payload, &p); err != nil {
		return err
	}
	h := &p.Header
	if p.IsDiscovery() {
		glog.Infof("%s device %x(%s) seq %d: discovery %q", t.Peer, h.ID, h.DeviceType, h.SeqNo, p.Discovery)
		return nil
	}
	glog.Infof("%s device %x(%s) seq %d time %s: %d bytes", t.Peer, h.ID, h.DeviceType, h.SeqNo,
		h.Time().Format(time.RFC3339Nano), len(p.Data))
	return nil
}

// DirSink 将每次传输写入Dir下的一个文件.
type DirSink struct {
	Dir string
}

func (s DirSink) Deliver(t *Transfer) error {
	peer := "unknown"
	if t.Peer != nil {
		peer = t.Peer.String()
	}
	name := fmt.Sprintf("%s-%s-%d.bin", sanitize(peer), hex.EncodeToString(t.ETag), t.Received.UnixNano())
	if err := os.WriteFile(filepath.Join(s.Dir, name), t.Payload, 0644); err != nil {
		return errors.Wrap(err, "dir sink")
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '/', '%':
			return '_'
		}
		return r
	}, s)
}

// Publisher MQTT发布接口, paho.Client满足该接口.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// MQTTSink 将传输发布到MQTT.
//
// Codec为nil时以 Prefix+路径 为主题发布原始负载, 否则解码数据包,
// 以 Prefix+设备标识/路径 为主题发布数据部分.
type MQTTSink struct {
	Client  Publisher
	Prefix  string
	Codec   Codec
	QoS     byte
	Timeout time.Duration // 等待发布完成, 为0时不限制
}

func (s *MQTTSink) Deliver(t *Transfer) error {
	topic := strings.TrimPrefix(t.Path, "/")
	payload := t.Payload
	if s.Codec != nil {
		var p Packet
		if err := s.Codec.Unmarshal(t.Payload, &p); err != nil {
			return err
		}
		if p.IsDiscovery() {
			topic = hex.EncodeToString(p.Header.ID) + "/" + DiscoveryPath
			payload = []byte(p.Discovery)
		} else {
			topic = hex.EncodeToString(p.Header.ID) + "/" + topic
			payload = p.Data
		}
	}

	tok := s.Client.Publish(s.Prefix+topic, s.QoS, false, payload)
	if s.Timeout > 0 {
		if !tok.WaitTimeout(s.Timeout) {
			return errors.Errorf("mqtt publish %q: timeout", s.Prefix+topic)
		}
	} else {
		tok.Wait()
	}
	if err := tok.Error(); err != nil {
		return errors.Wrapf(err, "mqtt publish %q", s.Prefix+topic)
	}
	return nil
}

// MQTTOptionsFromURL 由 mqtt://[user:pass@]host:port/prefix?client-id=xx 构造连接选项,
// 返回的主题前缀为URL路径.
func MQTTOptionsFromURL(brokerURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, "", err
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	if id := u.Query().Get("client-id"); id != "" {
		opts.SetClientID(id)
	}
	return opts, prefix, nil
}

// DialMQTT 连接broker并返回以其为目标的MQTTSink.
func DialMQTT(brokerURL string, codec Codec, timeout time.Duration) (*MQTTSink, paho.Client, error) {
	opts, prefix, err := MQTTOptionsFromURL(brokerURL)
	if err != nil {
		return nil, nil, err
	}
	c := paho.NewClient(opts)
	tok := c.Connect()
	if timeout > 0 && !tok.WaitTimeout(timeout) {
		return nil, nil, errors.Errorf("mqtt connect %s: timeout", brokerURL)
	}
	tok.Wait()
	if err = tok.Error(); err != nil {
		return nil, nil, errors.Wrapf(err, "mqtt connect %s", brokerURL)
	}
	return &MQTTSink{Client: c, Prefix: prefix, Codec: codec, Timeout: timeout}, c, nil
}

// MultiSink 依次交付给每个Sink, 返回第一个错误.
type MultiSink []Sink

func (ms MultiSink) Deliver(t *Transfer) error {
	for _, s := range ms {
		if err := s.Deliver(t); err != nil {
			return err
		}
	}
	return nil
}
