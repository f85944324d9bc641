// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package rsocket

import (
	"fmt"
	"io"
	"net"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ErrorCode is the numeric code carried by ERROR frames.
type ErrorCode uint32

const (
	ErrorCodeReserved         ErrorCode = 0x00000000
	ErrorCodeInvalidSetup     ErrorCode = 0x00000001
	ErrorCodeUnsupportedSetup ErrorCode = 0x00000002
	ErrorCodeRejectedSetup    ErrorCode = 0x00000003
	ErrorCodeRejectedResume   ErrorCode = 0x00000004
	ErrorCodeConnectionError  ErrorCode = 0x00000101
	ErrorCodeConnectionClose  ErrorCode = 0x00000102
	ErrorCodeApplicationError ErrorCode = 0x00000201
	ErrorCodeRejected         ErrorCode = 0x00000202
	ErrorCodeCanceled         ErrorCode = 0x00000203
	ErrorCodeInvalid          ErrorCode = 0x00000204
)

var errorCodeTexts = map[ErrorCode]string{
	ErrorCodeReserved:         "RESERVED",
	ErrorCodeInvalidSetup:     "INVALID_SETUP",
	ErrorCodeUnsupportedSetup: "UNSUPPORTED_SETUP",
	ErrorCodeRejectedSetup:    "REJECTED_SETUP",
	ErrorCodeRejectedResume:   "REJECTED_RESUME",
	ErrorCodeConnectionError:  "CONNECTION_ERROR",
	ErrorCodeConnectionClose:  "CONNECTION_CLOSE",
	ErrorCodeApplicationError: "APPLICATION_ERROR",
	ErrorCodeRejected:         "REJECTED",
	ErrorCodeCanceled:         "CANCELED",
	ErrorCodeInvalid:          "INVALID",
}

func (ec ErrorCode) String() string {
	if s, ok := errorCodeTexts[ec]; ok {
		return s
	}
	return fmt.Sprintf("0x%08x", uint32(ec))
}

// Error is a protocol level error with a code and a message.
type Error struct {
	Code    ErrorCode
	Message string
}

// NewError returns an *Error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("RSOCKET-0x%08x: %s", uint32(e.Code), e.Message)
}

// ErrConnectionRefused is returned by Connector.Connect when the local
// acceptor refuses the connection.
var ErrConnectionRefused = NewError(ErrorCodeRejectedSetup, "Connection refused, please check setup and security!")

// ErrFrameTooLarge is returned when a frame would exceed FrameMaxLength.
// Nothing is sent.
var ErrFrameTooLarge = NewError(ErrorCodeInvalid, "frame too large")

// ToError converts err to an *Error. Errors that are not already
// protocol errors become APPLICATION_ERROR.
func ToError(err error) *Error {
	if err == nil {
		return NewError(ErrorCodeApplicationError, "Error")
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(ErrorCodeApplicationError, err.Error())
}

// ProtocolError is the error type used for reporting protocol errors,
// all of which are fatal to a Conn.
type ProtocolError struct{}

func (ProtocolError) Error() string { return "protocol error" }

type serverClosedError struct{}

func (serverClosedError) Error() string { return "server closed" }

type timeoutError struct{}

func (timeoutError) Error() string   { return "deadline exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func isClosedError(err error) bool {
	switch errors.Cause(err) {
	case serverClosedError{}:
		return true
	case io.ErrClosedPipe:
		return true
	case io.EOF:
		return true
	case net.ErrClosed:
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(errors.Cause(err), websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
