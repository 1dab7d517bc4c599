package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth      = "AUTH_ERROR"
	ErrCodeNetwork   = "NETWORK_ERROR"
	ErrCodeStore     = "STORE_ERROR"
	ErrCodeReconcile = "RECONCILE_ERROR"
	ErrCodeConfig    = "CONFIG_ERROR"
	ErrCodeRateLimit = "RATE_LIMIT"
)

// Sentinel errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrTokenExpired     = errors.New("token expired")
	ErrNoOfflineData    = errors.New("no offline data available")
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrOffline          = errors.New("device is offline")
	ErrEnvelopeNotFound = errors.New("envelope not found")
	ErrOpNotFound       = errors.New("queue operation not found")
	ErrStoreCorrupt     = errors.New("client store is corrupt")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// APIError represents an error from the API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryable reports whether the response status should drive the
// retry state machine rather than fail permanently.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// ReconcileError reports a create call that succeeded without returning
// a usable server identifier. Treated as a failure for retry purposes:
// a partially synced parent with unresolved children is unsafe.
type ReconcileError struct {
	Store  StoreName
	TempID string
	Reason string
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile %s %s: %s", e.Store, e.TempID, e.Reason)
}

// StoreError wraps a local-store failure. Fatal to the operation that
// triggered it, never silently swallowed.
type StoreError struct {
	Op    string
	Store StoreName
	Err   error
}

func (e *StoreError) Error() string {
	if e.Store != "" {
		return fmt.Sprintf("store %s [%s]: %v", e.Op, e.Store, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
