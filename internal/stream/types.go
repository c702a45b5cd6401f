package stream

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrMaxReconnects   = errors.New("max reconnect attempts exceeded")
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateSubscribed
	StateStreaming
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the transport
	ReceivedAt time.Time // Local timestamp when the read returned
}

// Reject classes for frames that could not be ingested.
const (
	RejectMalformed   = "malformed"    // Frame is not valid JSON or lacks required fields
	RejectUnknownType = "unknown_type" // Envelope type not recognized
	RejectBadTime     = "bad_time"     // Timestamp failed to parse
)

// Reject is a frame routed to the rejects sink.
type Reject struct {
	Data       []byte
	Class      string
	Err        error
	ReceivedAt time.Time
}

// SessionStats is a point-in-time snapshot of session counters.
type SessionStats struct {
	State       State
	Received    int64     // Envelopes seen, any type
	Documents   int64     // Documents accepted into the buffer
	Rejected    int64     // Frames sent to the rejects sink
	SkewFlagged int64     // Documents with published_at ahead of received_at
	Flushes     int64     // Buffer flushes handed to the queue
	Reconnects  int64     // Successful reconnections
	Watermark   time.Time // Latest accepted published_at
}

// authRequest is the credential handshake sent after connect.
type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// subscribeRequest subscribes to document topics.
type subscribeRequest struct {
	Action string   `json:"action"`
	News   []string `json:"news"`
}

// envelope is the wire shape shared by every frame variant. Providers
// deliver arrays of envelopes; Type discriminates the variant.
type envelope struct {
	Type      string   `json:"T"`
	Msg       string   `json:"msg,omitempty"`
	Code      int      `json:"code,omitempty"`
	News      []string `json:"news,omitempty"`
	ID        int64    `json:"id,omitempty"`
	Headline  string   `json:"headline,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	URL       string   `json:"url,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// Envelope type discriminators.
const (
	envSuccess      = "success"
	envSubscription = "subscription"
	envDocument     = "n"
	envError        = "error"
)

// Success message payloads.
const (
	msgConnected     = "connected"
	msgAuthenticated = "authenticated"
)
