// Package facts collects host facts by invoking OS utilities and parsing
// their output into a flat key-value set.
//
// Owns:
//   - The fact vocabulary and its per-key defaults
//   - The POSIX and Windows provider variants and their parsing rules
//   - Variant selection (NewProvider / NewRemoteProvider)
//
// Does not own:
//   - Command execution (internal/cmdrun)
//   - OS classification (internal/osinfo)
//   - Rendering and transport of collected sets
//
// Invariants:
//   - CollectAll always returns every vocabulary key, with documented
//     defaults ("OS NOT SUPPORTED", "", 0) for anything that failed
//   - No fact-level failure is fatal; failures are logged and defaulted
//   - POSIX snapshots are taken at construction and never refreshed
package facts

import (
	"fmt"
	"sort"
)

// FactSet maps fact names to collected values: strings, ints, int64s or
// bools. Sets produced by a Provider carry the full vocabulary.
type FactSet map[string]any

// Values reported when a fact has no usable source on this host.
const (
	osNotSupported = "OS NOT SUPPORTED"
	unknownMAC     = "UNKNOWN"
)

// Keys returns the fact names in sorted order.
func (f FactSet) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders one fact for display; absent keys give "".
func (f FactSet) String(key string) string {
	v, ok := f[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Int returns a numeric fact as int64, tolerating the float64 that JSON
// decoding produces. Absent or non-numeric values give 0.
func (f FactSet) Int(key string) int64 {
	switch v := f[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Bool returns a boolean fact; anything else gives false.
func (f FactSet) Bool(key string) bool {
	v, _ := f[key].(bool)
	return v
}
