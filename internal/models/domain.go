package models

import "time"

// Machine is a serviceable unit at a farm site.
type Machine struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SerialNumber string    `json:"serial_number,omitempty"`
	FarmSiteID   string    `json:"farm_site_id,omitempty"`
	Hours        float64   `json:"hours"`
	Active       bool      `json:"active"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Protocol is a maintenance protocol with checklist items.
type Protocol struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Items  []ChecklistItem `json:"items,omitempty"`
	Active bool            `json:"active"`
}

// ChecklistItem is one step of a maintenance protocol.
type ChecklistItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

// User is a member of the organization, cached for offline assignment.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Active bool   `json:"active"`
}

// FarmSite is a physical location holding nets and machines.
type FarmSite struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Net is a cleanable net at a farm site.
type Net struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	FarmSiteID string     `json:"farm_site_id,omitempty"`
	LastClean  *time.Time `json:"last_clean,omitempty"`
	Active     bool       `json:"active"`
}

// StockItem is a spare-part stock level.
type StockItem struct {
	ID       string `json:"id"`
	PartName string `json:"part_name"`
	Quantity int    `json:"quantity"`
	Location string `json:"location,omitempty"`
}

// CleaningRecord is a net cleaning performed in the field. Created
// offline under a temp ID until the server assigns a permanent one.
type CleaningRecord struct {
	ID        string    `json:"id"`
	NetID     string    `json:"net_id"`
	UserID    string    `json:"user_id"`
	CleanedAt time.Time `json:"cleaned_at"`
	Notes     string    `json:"notes,omitempty"`
}

// CleaningPhoto is attached to a cleaning record. Its RecordID may be a
// temp ID until the parent record is reconciled.
type CleaningPhoto struct {
	ID       string `json:"id"`
	RecordID string `json:"record_id"`
	FileName string `json:"file_name"`
	Data     []byte `json:"data,omitempty"`
}

// MaintenanceExecution is a protocol run against a machine.
type MaintenanceExecution struct {
	ID         string    `json:"id"`
	MachineID  string    `json:"machine_id"`
	ProtocolID string    `json:"protocol_id"`
	UserID     string    `json:"user_id"`
	StartedAt  time.Time `json:"started_at"`
	Notes      string    `json:"notes,omitempty"`
}

// ExecutionItem is one completed checklist step of an execution. Its
// ExecutionID may be a temp ID until the parent execution is reconciled.
type ExecutionItem struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	ItemID      string    `json:"item_id"`
	Done        bool      `json:"done"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Comment     string    `json:"comment,omitempty"`
}
