package device

import (
	"context"
	"errors"
)

var (
	// ErrUnreachable: no transport-level connection could be made.
	ErrUnreachable = errors.New("device unreachable")
	// ErrNotTargetDevice: a host answered but failed identity verification.
	ErrNotTargetDevice = errors.New("not the target device")
	// ErrTimeout: deadline exceeded before any conclusive result.
	ErrTimeout = errors.New("timed out")
	// ErrNoNetwork: the local network interface is unusable.
	ErrNoNetwork = errors.New("no network available")
)

type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindUnreachable     ErrorKind = "unreachable"
	KindNotTargetDevice ErrorKind = "not_target_device"
	KindTimeout         ErrorKind = "timeout"
	KindNoNetwork       ErrorKind = "no_network_available"
	KindCanceled        ErrorKind = "canceled"
)

// KindOf classifies err. Unknown errors are reported as unreachable.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNoNetwork):
		return KindNoNetwork
	case errors.Is(err, ErrNotTargetDevice):
		return KindNotTargetDevice
	case errors.Is(err, ErrUnreachable):
		return KindUnreachable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnreachable
	}
}
