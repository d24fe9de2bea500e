/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"errors"
	"fmt"
)

var (
	ErrNoPendingConnection = errors.New("no pending connection")
	ErrChannelUnavailable  = errors.New("channel not open")
	ErrMalformedFrame      = errors.New("malformed frame")
	ErrConnectivityLost    = errors.New("connectivity lost")
	ErrClosed              = errors.New("connection manager closed")
)

// DecodeError is returned when a connection token cannot be turned back
// into a descriptor.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid connection code: %s: %v", e.Reason, e.Err)
	}
	return "invalid connection code: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SignalingError aborts a handshake attempt. Stage names the step that
// failed ("decode", "remote-description", "offer", ...).
type SignalingError struct {
	Stage string
	Err   error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling failed at %s: %v", e.Stage, e.Err)
}

func (e *SignalingError) Unwrap() error {
	return e.Err
}

// RemoteClosedError carries the reason sent in a graceful disconnect notice.
type RemoteClosedError struct {
	Reason string
}

func (e *RemoteClosedError) Error() string {
	if e.Reason == "" {
		return "remote side closed the connection"
	}
	return "remote side closed the connection: " + e.Reason
}

func (e *RemoteClosedError) Is(target error) bool {
	return target == ErrConnectivityLost
}

// UserMessage renders err as a status line suitable for the end user.
func UserMessage(err error) string {
	var (
		decodeErr *DecodeError
		sigErr    *SignalingError
		remoteErr *RemoteClosedError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &decodeErr):
		return "Invalid code. Copy the whole code and try again."
	case errors.As(err, &sigErr):
		return "Could not use that code. Ask for a fresh one and try again."
	case errors.Is(err, ErrNoPendingConnection):
		return "Generate an invite first."
	case errors.As(err, &remoteErr):
		return "The other device left: " + remoteErr.Reason
	case errors.Is(err, ErrConnectivityLost):
		return "Connection lost."
	case errors.Is(err, ErrClosed):
		return "The session has been closed."
	default:
		return "Something went wrong: " + err.Error()
	}
}
