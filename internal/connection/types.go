package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrHeartbeatTimeout = errors.New("no pong within liveness window")
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Status is a snapshot of the manager's state machine.
type Status struct {
	State         State
	Attempts      int       // Consecutive failed attempts since last success
	LastConnected time.Time // Zero if never connected
	LastError     error     // Most recent transport error, nil if none
}

// TimestampedMessage wraps raw frame bytes with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// SymbolSource provides the full wire-visible subscription set to replay
// after a successful connect.
type SymbolSource interface {
	Symbols() []string
}

// ClientConfig configures a single WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://feed.example.com/ws)
	HandshakeTimeout time.Duration // Dial timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                  string        // Push endpoint; empty means pure-polling mode
	ConnectTimeout       time.Duration // Max time for an attempt to open
	HeartbeatInterval    time.Duration // Interval between ping frames
	ReconnectBaseDelay   time.Duration // Base wait for exponential backoff
	ReconnectMaxDelay    time.Duration // Cap on backoff delay
	MaxReconnectAttempts int           // Failures tolerated before ERROR
	WriteTimeout         time.Duration // Write deadline for sends
	SendBufferSize       int           // Outbound queue size
	MessageBufferSize    int           // Decoded inbound channel size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout:       10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		WriteTimeout:         5 * time.Second,
		SendBufferSize:       256,
		MessageBufferSize:    4096,
	}
}
