package models

import (
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix namespaces client-generated identifiers so a
// server-assigned ID can never be mistaken for an unsynced record.
const TempIDPrefix = "tmp-"

// NewTempID generates an identifier for a record created offline.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id belongs to the temporary namespace.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
