package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Code is the numeric error code carried by an error body. Values follow the
// harness's numbering.
type Code int

const (
	CodeTimeout                Code = 0
	CodeNotSupported           Code = 10
	CodeTemporarilyUnavailable Code = 11
	CodeMalformedRequest       Code = 12
	CodeCrash                  Code = 13
)

func (c Code) String() string {
	switch c {
	case CodeTimeout:
		return "timeout"
	case CodeNotSupported:
		return "not-supported"
	case CodeTemporarilyUnavailable:
		return "temporarily-unavailable"
	case CodeMalformedRequest:
		return "malformed-request"
	case CodeCrash:
		return "crash"
	default:
		return fmt.Sprintf("error-%d", int(c))
	}
}

// RPCError is an error that is reported back to the sender as an error body.
type RPCError struct {
	Code Code
	Text string
}

func NewRPCError(code Code, text string) *RPCError {
	return &RPCError{Code: code, Text: text}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Text)
}

func (e *RPCError) Payload() Error {
	return Error{Code: e.Code, Text: e.Text}
}

// AsRPCError maps err onto the error body the sender should see. Decode
// failures keep their dedicated codes; anything else is a crash.
func AsRPCError(err error) *RPCError {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, ErrUnknownType):
		return NewRPCError(CodeNotSupported, err.Error())
	case errors.Is(err, ErrMalformed):
		return NewRPCError(CodeMalformedRequest, err.Error())
	default:
		return NewRPCError(CodeCrash, err.Error())
	}
}
