package transport

import (
	"context"
	"encoding/json"
)

// TokenSource supplies the bearer credential at call time. Reads hit
// the host's credential store so a token refresh is picked up without
// rebuilding the transport.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed-token source for tests and one-off calls.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token() (string, error) { return string(t), nil }

// Transport performs the engine's network calls. Each call issues
// exactly one HTTP request; retries belong to the synchronization
// processor, not the transport.
type Transport interface {
	// Request sends a JSON request and returns the raw response body.
	// Non-2xx responses surface as *models.APIError.
	Request(ctx context.Context, method, path string, payload interface{}) (json.RawMessage, error)

	// GetJSON fetches a resource.
	GetJSON(ctx context.Context, path string) (json.RawMessage, error)

	// Ping probes the health endpoint. Used by the connectivity monitor.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// DecodeObject parses a response body into a generic object.
func DecodeObject(raw json.RawMessage) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// DecodeList parses a response body into a list of raw objects. Both a
// bare array and a wrapped {"items": [...]} shape are accepted.
func DecodeList(raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var wrapped struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Items, nil
}
