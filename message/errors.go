package message

import (
	"fmt"
	"runtime"
)

// Error is a handler failure that records where it was raised.
// The dispatcher copies its fields into ErrorDetail unchanged.
type Error struct {
	Msg     string
	ErrCode int
	File    string
	Line    int
}

// NewError creates an Error with the caller's file and line.
func NewError(code int, format string, args ...any) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{
		Msg:     fmt.Sprintf(format, args...),
		ErrCode: code,
		File:    file,
		Line:    line,
	}
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Code() int {
	return e.ErrCode
}

// EarlyResponse lets a handler, or anything it calls, return a complete
// Response instead of a plain value. The dispatcher returns it verbatim.
type EarlyResponse struct {
	Response *Response
}

func (e *EarlyResponse) Error() string {
	return "early response"
}

// Respond wraps resp so it can travel up an error return path.
func Respond(resp *Response) error {
	return &EarlyResponse{Response: resp}
}
