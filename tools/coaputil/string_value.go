package coaputil

import "strings"

// StringsValue 可重复的字符串flag
type StringsValue []string

func (p *StringsValue) Set(s string) error {
	*p = append(*p, s)
	return nil
}

func (p *StringsValue) String() string {
	if p == nil {
		return ""
	}
	return strings.Join(*p, ",")
}
