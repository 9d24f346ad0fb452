package base

import (
	"errors"
	"fmt"
)

var (
	ErrStateNotFound = errors.New("message state not found")
	ErrDupMessageID  = errors.New("message id duplicate")
)

// Error 协议栈层错误
type Error struct {
	Layer   string
	Cause   error
	Details string
}

func (e Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v(%s)", e.Layer, e.Cause, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Layer, e.Cause)
}

func (e Error) Unwrap() error {
	return e.Cause
}

// MessageFormatError 消息格式错误
type MessageFormatError interface {
	FormatError() bool
}

// BadOptionsError 请求中含有无法识别的critical选项
type BadOptionsError interface {
	BadOptions() bool
}

type formatError struct {
	msg string
}

func formatErrorf(format string, a ...interface{}) error {
	return formatError{msg: fmt.Sprintf(format, a...)}
}

func (e formatError) Error() string {
	return "message format error: " + e.msg
}

func (e formatError) FormatError() bool {
	return true
}

type badOptionsError struct {
	ids []uint16
}

func (e badOptionsError) Error() string {
	names := make([]string, 0, len(e.ids))
	for _, id := range e.ids {
		names = append(names, OptionName(id))
	}
	return fmt.Sprintf("unrecognized critical options %v", names)
}

func (e badOptionsError) BadOptions() bool {
	return true
}
