package manifest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// TimestampLayout is the fixed-width sortable layout used for version dates
// and version names.
const TimestampLayout = "20060102150405"

// Timestamp formats t in the fixed-width sortable form used throughout the
// version history.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Version is one numbered, timestamped snapshot of a project.
type Version struct {
	// Number is a positive integer, unique within a project's history.
	// The maximum number is the latest version.
	Number int `json:"version_number"`

	// Date is the creation timestamp in TimestampLayout form.
	Date string `json:"version_date"`

	// Name is the workspace directory name: {date}_v{number}_{project name}.
	Name string `json:"version_name"`

	// Workflow identifies the workflow template set used.
	Workflow string `json:"version_workflow,omitempty"`

	// Zipfile is an optional embedded archive of the project directory at
	// snapshot time.
	Zipfile []byte `json:"version_zipfile,omitempty"`
}

func (v Version) clone() Version {
	out := v
	if v.Zipfile != nil {
		out.Zipfile = make([]byte, len(v.Zipfile))
		copy(out.Zipfile, v.Zipfile)
	}
	return out
}

// HasArchive reports whether the version carries an embedded archive.
func (v Version) HasArchive() bool {
	return len(v.Zipfile) > 0
}

// Key selects the version field matched by Get.
type Key string

const (
	// KeyNumber matches on version_number.
	KeyNumber Key = "number"
	// KeyName matches on version_name.
	KeyName Key = "name"
	// KeyDate matches on version_date.
	KeyDate Key = "date"
)

// versionNameRE splits a version name into date, number, and project name.
// The date group is pinned to the fixed-width timestamp so project names
// containing a _v<digits>_ sequence still split at the right place.
var versionNameRE = regexp.MustCompile(`^([0-9]{14})_v([0-9]+)_(.+)$`)

// FormatVersionName builds the workspace directory name for a version.
func FormatVersionName(date string, number int, projectName string) string {
	return date + "_v" + strconv.Itoa(number) + "_" + projectName
}

// ParseVersionName splits a version name into its (date, number, name) parts.
// It is the exact inverse of FormatVersionName for any valid triple.
func ParseVersionName(s string) (date string, number int, name string, err error) {
	parts := versionNameRE.FindStringSubmatch(s)
	if parts == nil {
		return "", 0, "", fmt.Errorf("malformed version name %q", s)
	}
	number, err = strconv.Atoi(parts[2])
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed version number in %q: %w", s, err)
	}
	return parts[1], number, parts[3], nil
}

// HasVersions reports whether the manifest carries any version history at
// all. A manifest without a content field is distinct from one with an empty
// history: the former fails Get with ErrNoVersions.
func (m Manifest) HasVersions() bool {
	_, ok := m[FieldContent]
	return ok
}

// Versions returns the manifest's version history normalized to an ordered
// list, regardless of whether content was persisted as a single record or a
// list. Returns nil when content is absent.
func (m Manifest) Versions() []Version {
	raw, ok := m[FieldContent]
	if !ok {
		return nil
	}
	switch t := raw.(type) {
	case []Version:
		return t
	case Version:
		return []Version{t}
	case map[string]any:
		return []Version{versionFromMap(t)}
	case []any:
		out := make([]Version, 0, len(t))
		for _, item := range t {
			switch ver := item.(type) {
			case Version:
				out = append(out, ver)
			case map[string]any:
				out = append(out, versionFromMap(ver))
			}
		}
		return out
	default:
		return nil
	}
}

// SetVersions replaces the manifest's version history.
func (m Manifest) SetVersions(versions []Version) {
	m[FieldContent] = versions
}

// versionFromMap rebuilds a Version from a decoded JSON object. Numbers
// arrive as float64 or json.Number depending on the decoder; archives arrive
// base64-encoded.
func versionFromMap(raw map[string]any) Version {
	var v Version
	v.Number = intField(raw["version_number"])
	v.Date, _ = raw["version_date"].(string)
	v.Name, _ = raw["version_name"].(string)
	v.Workflow, _ = raw["version_workflow"].(string)
	switch z := raw["version_zipfile"].(type) {
	case []byte:
		v.Zipfile = z
	case string:
		if decoded, err := base64.StdEncoding.DecodeString(z); err == nil {
			v.Zipfile = decoded
		}
	}
	return v
}

func intField(raw any) int {
	switch n := raw.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

// LatestNumber returns the maximum version number in the history, or 1 when
// the manifest has no versions. It never fails.
func (m Manifest) LatestNumber() int {
	versions := m.Versions()
	if len(versions) == 0 {
		return 1
	}
	latest := versions[0].Number
	for _, v := range versions[1:] {
		if v.Number > latest {
			latest = v.Number
		}
	}
	return latest
}

// Latest returns the version with the maximum number. Fails with
// ErrNoVersions when the history is absent or empty.
func (m Manifest) Latest() (Version, error) {
	versions := m.Versions()
	if len(versions) == 0 {
		return Version{}, ErrNoVersions
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.Number > latest.Number {
			latest = v
		}
	}
	return latest, nil
}

// Get linear-searches the history for the version whose field named by key
// matches value. Number values may be given as int or string. Fails with
// ErrNoVersions when the manifest has no content field at all, and with
// ErrVersionNotFound when the history holds no match.
func (m Manifest) Get(key Key, value any) (Version, error) {
	if !m.HasVersions() {
		return Version{}, ErrNoVersions
	}
	for _, v := range m.Versions() {
		switch key {
		case KeyNumber:
			if v.Number == intField(value) {
				return v, nil
			}
		case KeyName:
			if s, ok := value.(string); ok && v.Name == s {
				return v, nil
			}
		case KeyDate:
			if s, ok := value.(string); ok && v.Date == s {
				return v, nil
			}
		default:
			return Version{}, fmt.Errorf("unknown version key %q", key)
		}
	}
	return Version{}, fmt.Errorf("%w: %s=%v", ErrVersionNotFound, key, value)
}

// Remove deletes the version with the given number from the history and
// reports whether a matching record was present.
func (m Manifest) Remove(number int) bool {
	versions := m.Versions()
	for i, v := range versions {
		if v.Number == number {
			m.SetVersions(append(versions[:i:i], versions[i+1:]...))
			return true
		}
	}
	return false
}
