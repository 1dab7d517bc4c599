package store

import "encoding/json"

// rewriteRefs replaces every string value equal to oldID with newID
// anywhere inside a JSON document. Returns the (possibly unchanged)
// document and whether a replacement happened. Field names are left
// untouched; only values are identifiers.
func rewriteRefs(data json.RawMessage, oldID, newID string) (json.RawMessage, bool, error) {
	if len(data) == 0 {
		return data, false, nil
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return data, false, err
	}

	v, changed := rewriteValue(v, oldID, newID)
	if !changed {
		return data, false, nil
	}

	out, err := json.Marshal(v)
	if err != nil {
		return data, false, err
	}
	return out, true, nil
}

func rewriteValue(v interface{}, oldID, newID string) (interface{}, bool) {
	switch val := v.(type) {
	case string:
		if val == oldID {
			return newID, true
		}
		return val, false
	case map[string]interface{}:
		changed := false
		for k, elem := range val {
			next, c := rewriteValue(elem, oldID, newID)
			if c {
				val[k] = next
				changed = true
			}
		}
		return val, changed
	case []interface{}:
		changed := false
		for i, elem := range val {
			next, c := rewriteValue(elem, oldID, newID)
			if c {
				val[i] = next
				changed = true
			}
		}
		return val, changed
	default:
		return v, false
	}
}
