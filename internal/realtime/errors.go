package realtime

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned by operations that need a connected channel.
	ErrNotConnected = errors.New("channel not connected")
	// ErrNetworkLoss marks a transport drop the server did not initiate.
	ErrNetworkLoss = errors.New("network loss")
	// ErrServerDisconnect marks an explicit server-side termination.
	ErrServerDisconnect = errors.New("server disconnected")
	// ErrRetriesExhausted is the cause attached to the final error state.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// NoCredentialError is returned by Connect when no bearer credential is
// available. No transport is opened.
type NoCredentialError struct {
	Channel Channel
}

func (e *NoCredentialError) Error() string {
	return fmt.Sprintf("%s: no credential, connection not attempted", e.Channel)
}

// ConnectTimeoutError is returned when the handshake does not complete in time.
type ConnectTimeoutError struct {
	Channel Channel
	Timeout time.Duration
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("%s: connect timed out after %s", e.Channel, e.Timeout)
}

// HandshakeError is returned when the server rejects the connection.
type HandshakeError struct {
	Channel Channel
	Message string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s: handshake rejected: %s", e.Channel, e.Message)
}

// AckTimeoutError is returned when an emit is not acknowledged in time, or
// when the channel does not become connected within the same bound.
type AckTimeoutError struct {
	Channel Channel
	Event   string
	Timeout time.Duration
}

func (e *AckTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s not acknowledged within %s", e.Channel, e.Event, e.Timeout)
}

// ServerRejectedError is returned when an ack reports success:false.
type ServerRejectedError struct {
	Channel Channel
	Event   string
	Message string
}

func (e *ServerRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s rejected by server", e.Channel, e.Event)
	}
	return fmt.Sprintf("%s: %s rejected by server: %s", e.Channel, e.Event, e.Message)
}

// IsTimeout reports whether err is a connect or ack timeout.
func IsTimeout(err error) bool {
	var ct *ConnectTimeoutError
	var at *AckTimeoutError
	return errors.As(err, &ct) || errors.As(err, &at)
}
