package models

import (
	"encoding/json"
	"time"
)

// OpType is the closed set of queued write kinds.
type OpType string

const (
	OpCreateCleaningRecord OpType = "create-cleaning-record"
	OpUploadCleaningPhoto  OpType = "upload-cleaning-photo"
	OpCreateExecution      OpType = "create-maintenance-execution"
	OpCompleteChecklist    OpType = "complete-checklist-item"
	OpRecordMachineHours   OpType = "record-machine-hours"
	OpAdjustStock          OpType = "adjust-stock"
)

// OpStatus is the queue state machine:
// pending -> syncing -> completed (deleted) | failed.
type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpSyncing   OpStatus = "syncing"
	OpFailed    OpStatus = "failed"
	OpCompleted OpStatus = "completed"
)

// Queue priorities. Higher values drain first; equal priorities drain
// oldest first.
const (
	PriorityNormal = 1
	PriorityHigh   = 5
)

// Operation is one queued write, independent of the domain record it
// targets. Completed operations are removed from the queue; failed ones
// are retained for inspection and manual retry.
type Operation struct {
	ID       int64           `json:"id"`
	Type     OpType          `json:"type"`
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Data     json.RawMessage `json:"data"`

	// TempID correlates the operation with a locally created envelope so
	// identifiers can be reconciled after the parent syncs.
	TempID string `json:"temp_id,omitempty"`

	Scope      Scope     `json:"scope"`
	Priority   int       `json:"priority"`
	Timestamp  time.Time `json:"timestamp"`
	Status     OpStatus  `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
}

// QueueStats summarizes queue contents for status surfaces.
type QueueStats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`
}

// Total returns the number of live queue rows.
func (s QueueStats) Total() int {
	return s.Pending + s.Syncing + s.Failed
}
