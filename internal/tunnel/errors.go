// Package tunnel drives the per-connection state machine: SOCKS5
// handshake and request, upstream resolve/connect, SSR initial-package
// delivery, and the bidirectional relay. One goroutine per tunnel
// stands in for the reactor's callback chain; each blocking net.Conn
// call is a suspension point, resumed by the next line of code instead
// of a registered callback.
package tunnel

import (
	"errors"
	"fmt"
	"net"

	"ssrtun/internal/pipeline"
)

// Error kinds, distinguishable with errors.Is without string matching.
// SOCKS5 reply codes are chosen at each failure site, not from these.
var (
	ErrInvalidPassword   = errors.New("tunnel: invalid password")
	ErrClientDecode      = errors.New("tunnel: client decode")
	ErrClientPostDecrypt = errors.New("tunnel: client post decrypt")
	ErrParseError        = errors.New("tunnel: parse error")
	ErrResolveFailed     = errors.New("tunnel: resolve failed")
	ErrConnectFailed     = errors.New("tunnel: connect failed")
	ErrTimeout           = errors.New("tunnel: timeout")
	ErrIOError           = errors.New("tunnel: io error")
)

// classifyPipelineErr maps a pipeline stage failure onto the matching
// tunnel error kind so callers can use errors.Is against this
// package's sentinels instead of pipeline's.
func classifyPipelineErr(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrCipherStage):
		return fmt.Errorf("%w: %w", ErrInvalidPassword, err)
	case errors.Is(err, pipeline.ErrObfsDecode):
		return fmt.Errorf("%w: %w", ErrClientDecode, err)
	case errors.Is(err, pipeline.ErrProtocolDecode):
		return fmt.Errorf("%w: %w", ErrClientPostDecrypt, err)
	default:
		return err
	}
}

// classifyReadErr tells an idle-timer expiry (spec §7's timeout kind)
// apart from any other read failure, without string matching.
func classifyReadErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrIOError, err)
}
