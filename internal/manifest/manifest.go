package manifest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Common errors.
var (
	ErrNoVersions      = errors.New("manifest has no versions")
	ErrVersionNotFound = errors.New("version not found")
	ErrNameRequired    = errors.New("manifest name is required")
)

// reservedPrefix marks UI-only input fields that must never be persisted.
const reservedPrefix = "builder_"

// Field names with defined semantics. Everything else in a manifest is
// opaque form data.
const (
	FieldID      = "_id"
	FieldName    = "name"
	FieldContent = "content"
	FieldQuery   = "db_query"
)

// Manifest is one project's persisted document: a mapping of field names to
// values. Required field: "name". The "_id" field is assigned by the document
// store on first insert and is absent until then.
type Manifest map[string]any

// Reduce returns a copy of m without empty-valued entries and without
// UI-reserved (builder_-prefixed) fields. Empty means "", an empty list, or a
// list containing only "". Reduce is pure and idempotent.
func Reduce(m Manifest) Manifest {
	out := make(Manifest, len(m))
	for k, v := range m {
		if len(k) >= len(reservedPrefix) && k[:len(reservedPrefix)] == reservedPrefix {
			continue
		}
		if isEmptyValue(v) {
			continue
		}
		out[k] = v
	}
	return out
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		if len(t) == 0 {
			return true
		}
		if len(t) == 1 {
			if s, ok := t[0].(string); ok && s == "" {
				return true
			}
		}
		return false
	case []string:
		if len(t) == 0 {
			return true
		}
		return len(t) == 1 && t[0] == ""
	case nil:
		return true
	default:
		return false
	}
}

// Name returns the manifest's project name, or "" when absent.
func (m Manifest) Name() string {
	s, _ := m[FieldName].(string)
	return s
}

// ID returns the document store identifier, or "" when the manifest has not
// been persisted yet.
func (m Manifest) ID() string {
	s, _ := m[FieldID].(string)
	return s
}

// SetID records the identifier assigned by the document store.
func (m Manifest) SetID(id string) {
	m[FieldID] = id
}

// ClearID removes the identifier, forcing the next save to insert a new
// document.
func (m Manifest) ClearID() {
	delete(m, FieldID)
}

// Query returns the raw db_query expression, or "" when absent. The value may
// be persisted either as a JSON string or as a decoded object; both are
// returned as their JSON text.
func (m Manifest) Query() string {
	switch q := m[FieldQuery].(type) {
	case string:
		return q
	case nil:
		return ""
	default:
		b, err := json.Marshal(q)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Clone returns a deep copy of the manifest. Mutating the copy never affects
// the original; save and copy operations build their mutations on a clone and
// commit only after the store write succeeds.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case Manifest:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	case []Version:
		out := make([]Version, len(t))
		for i, ver := range t {
			out[i] = ver.clone()
		}
		return out
	case Version:
		return t.clone()
	default:
		return v
	}
}

// Validate checks the fields this layer depends on.
func (m Manifest) Validate() error {
	if m.Name() == "" {
		return ErrNameRequired
	}
	return nil
}

// MarshalCanonical serializes the manifest as RFC 8785 canonical JSON.
// Canonical form keeps datapackage.json and reconstructed exports
// byte-reproducible across runs.
func (m Manifest) MarshalCanonical() ([]byte, error) {
	raw, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize manifest: %w", err)
	}
	return canonical, nil
}
