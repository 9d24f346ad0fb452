package coaputil

import (
	"fmt"
	"strconv"
	"strings"

	coap "github.com/nrfthread/coapblock"
	"github.com/nrfthread/coapblock/internal/stack/base"
)

// 选项值格式
const (
	EmptyValue  = base.EmptyValue
	UintValue   = base.UintValue
	StringValue = base.StringValue
	OpaqueValue = base.OpaqueValue
)

func makeEmptyOption(id uint16, value string) (base.Option, error) {
	return base.Option{ID: id}, nil
}

func makeUintOption(id uint16, value string) (base.Option, error) {
	u, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return base.Option{}, err
	}
	return base.Option{ID: id, Value: uint32(u)}, nil
}

func makeStringOption(id uint16, value string) (base.Option, error) {
	return base.Option{ID: id, Value: value}, nil
}

func makeOpaqueOption(id uint16, value string) (base.Option, error) {
	return base.Option{ID: id, Value: []byte(value)}, nil
}

func makeOption(format int, id uint16, value string) (base.Option, error) {
	switch format {
	case base.EmptyValue:
		return makeEmptyOption(id, value)
	case base.UintValue:
		return makeUintOption(id, value)
	case base.StringValue:
		return makeStringOption(id, value)
	case base.OpaqueValue:
		return makeOpaqueOption(id, value)
	default:
		return base.Option{}, fmt.Errorf("unsupport option format: %d", format)
	}
}

// splitOption 拆分"name:value", 值中可以带':'.
func splitOption(s string) (string, string, error) {
	ss := strings.SplitN(s, ":", 2)
	if len(ss) == 1 {
		return strings.TrimSpace(ss[0]), "", nil
	}
	name := strings.TrimSpace(ss[0])
	if name == "" {
		return "", "", fmt.Errorf("option format ill: %s", s)
	}
	return name, strings.TrimSpace(ss[1]), nil
}

// ParseOptionByName 解析"Content-Format:50"形式的选项.
func ParseOptionByName(s string) (base.Option, error) {
	name, value, err := splitOption(s)
	if err != nil {
		return base.Option{}, err
	}
	def, ok := base.LookupOptionDefByName(name)
	if !ok {
		return base.Option{}, fmt.Errorf("not found option define: %s", name)
	}
	return makeOption(def.Format, def.ID, value)
}

// ParseOptionByID 解析"12:50"形式的选项, 值按format解释.
func ParseOptionByID(format int, s string) (base.Option, error) {
	name, value, err := splitOption(s)
	if err != nil {
		return base.Option{}, err
	}
	id, err := strconv.ParseUint(name, 10, 16)
	if err != nil {
		return base.Option{}, err
	}
	return makeOption(format, uint16(id), value)
}

// AddOptionsByName 解析ss并添加到opts.
func AddOptionsByName(opts *coap.Options, ss []string) error {
	for _, s := range ss {
		opt, err := ParseOptionByName(s)
		if err != nil {
			return err
		}
		opts.Add(coap.OptionID(opt.ID), opt.Value)
	}
	return nil
}

// AddOptionsByID 按format解析ss并添加到opts.
func AddOptionsByID(opts *coap.Options, format int, ss []string) error {
	for _, s := range ss {
		opt, err := ParseOptionByID(format, s)
		if err != nil {
			return err
		}
		opts.Add(coap.OptionID(opt.ID), opt.Value)
	}
	return nil
}
