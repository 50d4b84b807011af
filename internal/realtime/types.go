package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEvent is the bucket for envelopes that carry no event name.
const DefaultEvent = "message"

// Reconnect policies.
const (
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// State is the lifecycle state of the connection manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnectPending
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Envelope is one decoded push message.
type Envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Handler receives the payload of every envelope for the event it subscribed to.
// A returned error is logged; it never affects other handlers or the connection.
type Handler interface {
	Handle(data json.RawMessage) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(data json.RawMessage) error

func (f HandlerFunc) Handle(data json.RawMessage) error {
	return f(data)
}

// Config configures a Channel.
type Config struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:3000/ws)
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial handshake timeout
	WriteTimeout     time.Duration // Write deadline for Send and control frames
	PongWait         time.Duration // Max time without a pong before the link is considered dead (0 = no keepalive)
	ReconnectPolicy  string        // "fixed" or "exponential"
	ReconnectDelay   time.Duration // Fixed delay, or initial delay for exponential
	MaxReconnectWait time.Duration // Cap for exponential backoff
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PongWait:         60 * time.Second,
		ReconnectPolicy:  PolicyFixed,
		ReconnectDelay:   5 * time.Second,
		MaxReconnectWait: 60 * time.Second,
	}
}

// pingPeriod must be less than PongWait.
func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Stats are cumulative channel counters.
type Stats struct {
	State         string `json:"state"`
	Connects      int64  `json:"connects"`
	Reconnects    int64  `json:"reconnects"`
	DialFailures  int64  `json:"dial_failures"`
	Frames        int64  `json:"frames"`
	DecodeErrors  int64  `json:"decode_errors"`
	HandlerErrors int64  `json:"handler_errors"`
	SentMessages  int64  `json:"sent_messages"`
	DroppedSends  int64  `json:"dropped_sends"`
}

// WebSocketURL derives the push endpoint from the bot's HTTP base URL:
// http becomes ws, https becomes wss, and path is appended.
func WebSocketURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if path == "" {
		path = "/ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")

	return u.String(), nil
}
