package defects

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformedSeverity is returned when the severity configuration cannot be decoded.
// It is recoverable: callers substitute DefaultSeverityTable.
var ErrMalformedSeverity = errors.New("malformed severity configuration")

// ErrIncompleteSeverity is returned when a severity table does not cover every category,
// or names a category that does not exist. It is not recoverable.
var ErrIncompleteSeverity = errors.New("incomplete severity configuration")

// SeverityTable maps every category to its severity level
type SeverityTable map[Category]int

// DefaultSeverityTable returns a fresh copy of the built-in table
func DefaultSeverityTable() SeverityTable {
	t := SeverityTable{}
	for _, c := range AllCategories() {
		t[c] = c.DefaultSeverity()
	}
	return t
}

// Validate checks that the table is total over all categories
func (t SeverityTable) Validate() error {
	missing := []string{}
	for _, c := range AllCategories() {
		if _, ok := t[c]; !ok {
			missing = append(missing, c.Label())
		}
	}
	if len(missing) != 0 {
		return fmt.Errorf("%w: no severity for %v", ErrIncompleteSeverity, strings.Join(missing, ", "))
	}
	return nil
}

// Lookup returns the severity of c. The table must have been validated.
func (t SeverityTable) Lookup(c Category) int {
	return t[c]
}

// Clone returns a copy that can't be mutated through t
func (t SeverityTable) Clone() SeverityTable {
	c := make(SeverityTable, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// MarshalJSON writes the table keyed by label, in class-id order
func (t SeverityTable) MarshalJSON() ([]byte, error) {
	keys := make([]Category, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	b := strings.Builder{}
	b.WriteByte('{')
	for i, k := range keys {
		if i != 0 {
			b.WriteByte(',')
		}
		lb, _ := json.Marshal(k.Label())
		b.Write(lb)
		fmt.Fprintf(&b, ":%d", t[k])
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// ParseSeverityConfig decodes a JSON object of category label (or name) to integer level.
//
// An empty string or an empty object means "not configured", and yields the default table.
// Undecodable JSON yields ErrMalformedSeverity; the caller is expected to log it
// and fall back to DefaultSeverityTable.
// An unknown category, or a table that misses a category, yields ErrIncompleteSeverity.
func ParseSeverityConfig(raw string) (SeverityTable, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultSeverityTable(), nil
	}
	levels := map[string]int{}
	if err := json.Unmarshal([]byte(raw), &levels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSeverity, err)
	}
	if len(levels) == 0 {
		return DefaultSeverityTable(), nil
	}
	table := SeverityTable{}
	for key, level := range levels {
		c, ok := ParseCategory(strings.TrimSpace(key))
		if !ok {
			return nil, fmt.Errorf("%w: unknown category '%v'", ErrIncompleteSeverity, key)
		}
		table[c] = level
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}
