// Package netutil classifies transport failures seen while talking to the Bot API.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// Reasons returned by Transient.
const (
	ReasonTimeout = "timeout"
	ReasonDial    = "dial"
	ReasonReset   = "reset"
	ReasonEOF     = "eof"
)

// Transient names the kind of transient network failure err represents,
// or returns "" when retrying would not help.
func Transient(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return ReasonReset
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonDial
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ReasonEOF
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ReasonDial
	}
	// *url.Error and *net.OpError both report Timeout through net.Error.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ""
}

// ShouldRetry reports whether err is a transient network failure.
func ShouldRetry(err error) bool {
	return Transient(err) != ""
}
