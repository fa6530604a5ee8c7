package configutil

import (
	"fmt"
	"sort"
	"strings"
)

// Schema describes the keys a provider settings map may carry. Key matching
// ignores case, underscores and hyphens.
type Schema struct {
	// Path prefixes error messages, e.g. "provider.settings".
	Path     string
	Required []string
	Optional []string
	// Enums restricts string values of the named keys.
	Enums        map[string][]string
	AllowUnknown bool
}

// SettingsError lists every problem found in one settings map.
type SettingsError struct {
	Path    string
	Missing []string
	Unknown []string
	Invalid []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, ", "))
	}
	msg := strings.Join(parts, "; ")
	if e.Path != "" {
		return e.Path + ": " + msg
	}
	return msg
}

// ValidateSettings checks input against schema and returns a *SettingsError
// when anything is missing, unknown or outside its enum.
func ValidateSettings(input map[string]any, schema Schema) error {
	known := make(map[string]string, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		known[normalizeKey(k)] = k
	}
	for _, k := range schema.Required {
		known[normalizeKey(k)] = k
	}
	enums := make(map[string][]string, len(schema.Enums))
	for k, values := range schema.Enums {
		enums[normalizeKey(k)] = values
	}

	present := make(map[string]any, len(input))
	serr := &SettingsError{Path: schema.Path}
	for k, v := range input {
		nk := normalizeKey(k)
		present[nk] = v
		name, ok := known[nk]
		if !ok {
			if !schema.AllowUnknown {
				serr.Unknown = append(serr.Unknown, k)
			}
			continue
		}
		if allowed, ok := enums[nk]; ok && !isEmptyValue(v) && !oneOf(v, allowed) {
			serr.Invalid = append(serr.Invalid, fmt.Sprintf("%s=%v (want %s)", name, v, strings.Join(allowed, "|")))
		}
	}
	for _, k := range schema.Required {
		if v, ok := present[normalizeKey(k)]; !ok || isEmptyValue(v) {
			serr.Missing = append(serr.Missing, k)
		}
	}

	if len(serr.Missing)+len(serr.Unknown)+len(serr.Invalid) == 0 {
		return nil
	}
	sort.Strings(serr.Missing)
	sort.Strings(serr.Unknown)
	sort.Strings(serr.Invalid)
	return serr
}

func oneOf(v any, allowed []string) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(s), a) {
			return true
		}
	}
	return false
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
