package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nestlog/nestlog/internal/schema"
)

// FrameType identifies a websocket message.
type FrameType string

const (
	// FrameSubscribe asks the server to stream snapshots of one document.
	FrameSubscribe FrameType = "subscribe"

	// FrameUnsubscribe stops a stream started with FrameSubscribe.
	FrameUnsubscribe FrameType = "unsubscribe"

	// FramePush merges Doc's top-level fields into the stored document.
	FramePush FrameType = "push"

	// FrameSnapshot carries the current state of a document. Exists is false
	// when the document has never been written.
	FrameSnapshot FrameType = "snapshot"

	// FrameError reports a rejected client frame.
	FrameError FrameType = "error"
)

// Frame is the single message shape exchanged in both directions.
type Frame struct {
	Type   FrameType       `json:"type"`
	Key    string          `json:"key"`
	Exists bool            `json:"exists,omitempty"`
	Doc    json.RawMessage `json:"doc,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Snapshot is what subscribers receive on every remote change.
type Snapshot struct {
	Key    string
	Exists bool
	Doc    json.RawMessage
}

// Envelope decodes the snapshot document. Absent documents are an error;
// callers check Exists first.
func (s Snapshot) Envelope() (schema.Envelope, error) {
	if !s.Exists {
		return schema.Envelope{}, ErrAbsent
	}
	var env schema.Envelope
	if err := json.Unmarshal(s.Doc, &env); err != nil {
		return schema.Envelope{}, fmt.Errorf("failed to decode %s document: %w", s.Key, err)
	}
	return env, nil
}

// State is the lifecycle of a mirrored key.
type State int

const (
	// StateDisabled means no identity is configured.
	StateDisabled State = iota
	// StateIdle means an identity is present but the key is not subscribed.
	StateIdle
	// StateSubscribed means a listener is active.
	StateSubscribed
	// StateClosed means the listener was torn down. Terminal.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription is a live listener on one key.
type Subscription interface {
	Key() string
	State() State
	// Close stops delivery. No snapshot is handed to the callback after
	// Close returns; one already being delivered may still be running, so
	// owners guard their own teardown as well. Idempotent.
	Close() error
}

// Channel is the client side of the remote mirror.
type Channel interface {
	// Subscribe registers fn for every remote change to key. The current
	// document (or its absence) is delivered first.
	Subscribe(key string, fn func(Snapshot)) (Subscription, error)

	// Push merges doc into the remote document for key.
	Push(ctx context.Context, key string, doc json.RawMessage) error

	// Close tears down every subscription and the connection.
	Close() error
}

var (
	// ErrAbsent is returned when decoding a snapshot of a missing document.
	ErrAbsent = errors.New("remote document does not exist")

	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("mirror client is closed")

	// ErrAlreadySubscribed is returned when a key already has a listener on
	// this client.
	ErrAlreadySubscribed = errors.New("key already subscribed")
)

// DocPath returns the remote document path for key under identity.
func DocPath(identity, key string) string {
	return "users/" + identity + "/collections/" + key
}

// ValidateKey rejects keys that would escape their document path.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if strings.ContainsAny(key, "/ \t\n") {
		return fmt.Errorf("key %q contains invalid characters", key)
	}
	if len(key) > 128 {
		return fmt.Errorf("key must be 128 characters or less (got %d)", len(key))
	}
	return nil
}
