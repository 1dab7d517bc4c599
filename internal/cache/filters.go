package cache

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"

	"github.com/nordaqua/fieldsync/internal/models"
)

// Filters narrow a read result. The same filters apply whether the
// result comes from cache or fresh from the network, so callers observe
// consistent shapes regardless of source.
type Filters struct {
	// Search matches case-folded against the record's string fields.
	Search string

	// ActiveOnly drops records whose payload carries "active": false.
	ActiveOnly bool

	// Offset/Limit paginate the filtered result. A zero Limit means no
	// limit.
	Offset int
	Limit  int
}

var folder = cases.Fold()

// Apply filters envelopes in order: search, active-only, pagination.
func (f Filters) Apply(envs []*models.Envelope) []*models.Envelope {
	out := envs

	if f.Search != "" {
		needle := folder.String(f.Search)
		filtered := make([]*models.Envelope, 0, len(out))
		for _, env := range out {
			if payloadMatches(env.Payload, needle) {
				filtered = append(filtered, env)
			}
		}
		out = filtered
	}

	if f.ActiveOnly {
		filtered := make([]*models.Envelope, 0, len(out))
		for _, env := range out {
			if isActive(env.Payload) {
				filtered = append(filtered, env)
			}
		}
		out = filtered
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*models.Envelope{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	return out
}

// payloadMatches reports whether any top-level string field contains
// the folded needle.
func payloadMatches(payload json.RawMessage, needle string) bool {
	var obj map[string]interface{}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return false
	}

	for _, v := range obj {
		if s, ok := v.(string); ok {
			if strings.Contains(folder.String(s), needle) {
				return true
			}
		}
	}
	return false
}

// isActive reads the conventional "active" flag; records without the
// flag are considered active.
func isActive(payload json.RawMessage) bool {
	var obj struct {
		Active *bool `json:"active"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return true
	}
	return obj.Active == nil || *obj.Active
}
