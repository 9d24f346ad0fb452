package coap

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nrfthread/coapblock/internal/stack/base"
)

// Options 消息选项列表, 同一选项可出现多次.
type Options []base.Option

func (options Options) clone() Options {
	if options == nil {
		return nil
	}
	c := make(Options, len(options))
	copy(c, options)
	return c
}

func (options *Options) Add(id OptionID, v interface{}) {
	*options = append(*options, base.Option{ID: uint16(id), Value: v})
}

func (options *Options) Set(id OptionID, v interface{}) {
	options.Del(id)
	options.Add(id, v)
}

func (options Options) Get(id OptionID) interface{} {
	for _, o := range options {
		if o.ID == uint16(id) {
			return o.Value
		}
	}
	return nil
}

func (options Options) Contain(id OptionID) bool {
	for _, o := range options {
		if o.ID == uint16(id) {
			return true
		}
	}
	return false
}

func (options *Options) Del(id OptionID) {
	results := make(Options, 0, len(*options))
	for _, o := range *options {
		if o.ID != uint16(id) {
			results = append(results, o)
		}
	}
	*options = results
}

func (options Options) GetStrings(id OptionID) []string {
	var ss []string
	for _, o := range options {
		if o.ID == uint16(id) {
			if s, ok := o.Value.(string); ok {
				ss = append(ss, s)
			}
		}
	}
	return ss
}

func (options *Options) SetStrings(id OptionID, ss []string) {
	options.Del(id)
	for _, s := range ss {
		options.Add(id, s)
	}
}

// SetPath 将path拆分为Uri-Path选项, 忽略首尾的'/'.
func (options *Options) SetPath(path string) {
	options.SetStrings(URIPath, splitPath(path))
}

func (options Options) GetPath() string {
	return strings.Join(options.GetStrings(URIPath), "/")
}

// SetQuery 将query按'&'拆分为Uri-Query选项.
func (options *Options) SetQuery(query string) {
	var ss []string
	for _, q := range strings.Split(query, "&") {
		if q != "" {
			ss = append(ss, q)
		}
	}
	options.SetStrings(URIQuery, ss)
}

func (options Options) GetQuery() string {
	return strings.Join(options.GetStrings(URIQuery), "&")
}

var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

func (options Options) Write(w io.Writer) error {
	sorted := options.clone()
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	for _, o := range sorted {
		var err error
		switch v := o.Value.(type) {
		case string:
			_, err = fmt.Fprintf(w, "%s: %s\r\n", OptionID(o.ID), headerNewlineToSpace.Replace(v))
		case []byte:
			_, err = fmt.Fprintf(w, "%s: %x\r\n", OptionID(o.ID), v)
		default:
			_, err = fmt.Fprintf(w, "%s: %v\r\n", OptionID(o.ID), v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
