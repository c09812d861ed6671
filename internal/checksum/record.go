package checksum

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/objectfs/streamfs/pkg/errors"
)

// Record is one NAME:value line of a sidecar.
type Record struct {
	Name  string
	Value string
}

// RecordSet is an ordered set of records keyed by upper-cased name.
type RecordSet struct {
	names  []string
	values map[string]string
}

// NewRecordSet creates an empty set.
func NewRecordSet() *RecordSet {
	return &RecordSet{values: make(map[string]string)}
}

// ParseRecords parses sidecar text. Records are separated by exactly one
// newline and a trailing newline is optional; empty text is an empty set.
// Any other whitespace, including a carriage return, is malformed.
// A repeated name keeps its first position and its last value.
func ParseRecords(text string) (*RecordSet, error) {
	rs := NewRecordSet()
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return rs, nil
	}
	for i, tok := range strings.Split(text, "\n") {
		name, value, err := parseToken(tok)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMalformed, err, "invalid sidecar record").
				WithComponent("checksum").
				WithOperation("parse").
				WithContext("line", strconv.Itoa(i+1))
		}
		rs.Set(name, value)
	}
	return rs, nil
}

func parseToken(tok string) (string, string, error) {
	if len(tok) < 2 {
		return "", "", errors.Newf(errors.ErrCodeMalformed, "token %q too short", tok)
	}
	if strings.ContainsFunc(tok, unicode.IsSpace) {
		return "", "", errors.Newf(errors.ErrCodeMalformed, "token %q contains whitespace", tok)
	}
	if strings.Count(tok, ":") != 1 {
		return "", "", errors.Newf(errors.ErrCodeMalformed, "token %q must contain exactly one ':'", tok)
	}
	name, value, _ := strings.Cut(tok, ":")
	if name == "" || value == "" {
		return "", "", errors.Newf(errors.ErrCodeMalformed, "token %q has an empty name or value", tok)
	}
	return name, value, nil
}

// Len is the number of records.
func (rs *RecordSet) Len() int { return len(rs.names) }

// Get looks up name case-insensitively.
func (rs *RecordSet) Get(name string) (string, bool) {
	v, ok := rs.values[strings.ToUpper(name)]
	return v, ok
}

// Set replaces the value of an existing record in place or appends a new
// one, and reports whether the content changed.
func (rs *RecordSet) Set(name, value string) bool {
	key := strings.ToUpper(name)
	old, ok := rs.values[key]
	if ok && old == value {
		return false
	}
	if !ok {
		rs.names = append(rs.names, key)
	}
	rs.values[key] = value
	return true
}

// Merge sets every record and reports whether anything changed.
func (rs *RecordSet) Merge(records ...Record) bool {
	changed := false
	for _, r := range records {
		if rs.Set(r.Name, r.Value) {
			changed = true
		}
	}
	return changed
}

// Names returns the upper-cased names in order.
func (rs *RecordSet) Names() []string {
	out := make([]string, len(rs.names))
	copy(out, rs.names)
	return out
}

// Records returns the records in order.
func (rs *RecordSet) Records() []Record {
	out := make([]Record, 0, len(rs.names))
	for _, n := range rs.names {
		out = append(out, Record{Name: n, Value: rs.values[n]})
	}
	return out
}

// Serialize joins NAME:value lines with sep; an empty sep means "\n".
func (rs *RecordSet) Serialize(sep string) string {
	if sep == "" {
		sep = "\n"
	}
	var b strings.Builder
	for i, n := range rs.names {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(n)
		b.WriteByte(':')
		b.WriteString(rs.values[n])
	}
	return b.String()
}
