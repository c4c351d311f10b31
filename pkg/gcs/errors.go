package gcs

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionTimeout is returned when a connection attempt neither opens
	// nor fails within the configured timeout.
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport error")

	// ErrNotConnected is returned by send operations while no connection is open.
	ErrNotConnected = errors.New("not connected to ground control")

	// ErrUnknownProtocolMessage is returned for message kinds missing from the
	// message table.
	ErrUnknownProtocolMessage = errors.New("unknown protocol message")

	// ErrAlreadyConnected is returned by Connect while a connection is open
	// or being opened.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrConnectAborted is returned by Connect when Disconnect is called
	// while the attempt is in flight.
	ErrConnectAborted = errors.New("connect aborted")
)

// TransportError reports a failure of the underlying connection.
type TransportError struct {
	// Op is the link operation that failed (connect, send, read)
	Op string
	// Endpoint is the URL or device path of the connection
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s failed on %s", e.Op, e.Endpoint)
	}
	return fmt.Sprintf("transport %s failed on %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) true for any *TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
