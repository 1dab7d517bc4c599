package models

import "fmt"

// Scope identifies the tenant partition a cache entry belongs to. Every
// read and write against the client store is filtered by the caller's
// scope so account switching on a shared device never leaks data.
type Scope struct {
	UserID     string `json:"user_id"`
	OrgID      string `json:"org_id"`
	SuperAdmin bool   `json:"super_admin"`
}

// Key returns the canonical string form used as the partition key in
// the client store.
func (s Scope) Key() string {
	admin := 0
	if s.SuperAdmin {
		admin = 1
	}
	return fmt.Sprintf("%s|%s|%d", s.UserID, s.OrgID, admin)
}

// IsZero reports whether the scope is unset.
func (s Scope) IsZero() bool {
	return s.UserID == "" && s.OrgID == "" && !s.SuperAdmin
}

func (s Scope) String() string {
	return s.Key()
}
