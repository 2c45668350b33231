package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wrapper stored once per collection key, both in the local
// cache and as the remote document body.
type Envelope struct {
	Value     json.RawMessage `json:"value"`
	Hash      string          `json:"hash"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Origin    string          `json:"origin,omitempty"`
}

// NewEnvelope canonicalizes value and stamps it with its content hash.
func NewEnvelope(value any, origin string, now time.Time) (Envelope, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal value: %w", err)
	}
	canonical, err := Canonical(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Value:     canonical,
		Hash:      HashBytes(canonical),
		UpdatedAt: now.UTC(),
		Origin:    origin,
	}, nil
}

// Canonical re-encodes JSON with sorted object keys and no insignificant
// whitespace. Numbers keep their literal text.
func Canonical(data []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to parse JSON: trailing data")
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return out, nil
}

// HashBytes returns the hex SHA-256 of already canonical JSON.
func HashBytes(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Hash canonicalizes data and returns its content hash.
func Hash(data []byte) (string, error) {
	canonical, err := Canonical(data)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// IsNull reports whether data is empty or the JSON literal null.
func IsNull(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
