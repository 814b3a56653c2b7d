// Package catalog models the papers catalog document and merges new entries into it.
//
// The catalog is a JSON array of courses. Fields this package does not know about are
// kept verbatim so a decode/encode round trip never strips data written by other tools.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Catalog is the ordered list of courses. Order is preserved across merges.
type Catalog []Course

// Course is one catalog entry, keyed by CourseCode.
type Course struct {
	Name       string
	CourseCode string
	Resources  Resources
	Extra      map[string]json.RawMessage
}

// Resources groups the papers of a course. Only pyqs is interpreted.
type Resources struct {
	PYQs  []Resource
	Extra map[string]json.RawMessage
}

// Resource points at one paper: Papers/<course name>/<year>/<file>.pdf.
type Resource struct {
	Year  Year
	File  string
	Extra map[string]json.RawMessage

	// yearSource remembers a missing or null year so Encode writes it back the same way.
	yearSource yearSource
}

type yearSource uint8

const (
	yearGiven yearSource = iota
	yearMissing
	yearNull
)

// Year is always written as a JSON number. Numeric strings are accepted on read.
type Year int

var ErrInvalidYear = errors.New("invalid year")

func (y *Year) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*y = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidYear, raw)
		}
		raw = strings.TrimSpace(s)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidYear, string(data))
	}
	*y = Year(value)
	return nil
}

func (y Year) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(y))), nil
}

// Decode parses a catalog document. An empty or null document is an empty catalog.
func Decode(data []byte) (Catalog, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Catalog{}, nil
	}
	var courses []Course
	if err := json.Unmarshal(trimmed, &courses); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if courses == nil {
		courses = []Course{}
	}
	return Catalog(courses), nil
}

// Encode renders the catalog with two-space indentation and a trailing newline.
func Encode(c Catalog) ([]byte, error) {
	if c == nil {
		c = Catalog{}
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode([]Course(c)); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}

// Find returns the index of the first course with the given code, or -1.
func (c Catalog) Find(code string) int {
	for i := range c {
		if c[i].CourseCode == code {
			return i
		}
	}
	return -1
}

// Duplicates maps every course code that appears more than once to its indexes.
func (c Catalog) Duplicates() map[string][]int {
	seen := make(map[string][]int)
	for i := range c {
		seen[c[i].CourseCode] = append(seen[c[i].CourseCode], i)
	}
	out := make(map[string][]int)
	for code, indexes := range seen {
		if len(indexes) > 1 {
			out[code] = indexes
		}
	}
	return out
}

// Clone returns a deep copy. Raw extra values are shared; they are never modified.
func (c Catalog) Clone() Catalog {
	out := make(Catalog, len(c))
	for i := range c {
		out[i] = c[i].clone()
	}
	return out
}

func (c Course) clone() Course {
	out := c
	out.Extra = cloneExtra(c.Extra)
	out.Resources.Extra = cloneExtra(c.Resources.Extra)
	if c.Resources.PYQs != nil {
		out.Resources.PYQs = make([]Resource, len(c.Resources.PYQs))
		for i, r := range c.Resources.PYQs {
			r.Extra = cloneExtra(r.Extra)
			out.Resources.PYQs[i] = r
		}
	}
	return out
}

func cloneExtra(in map[string]json.RawMessage) map[string]json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (c *Course) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("course: %w", err)
	}
	*c = Course{}
	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &c.Name); err != nil {
			return fmt.Errorf("course name: %w", err)
		}
		delete(fields, "name")
	}
	if raw, ok := fields["course_code"]; ok {
		if err := json.Unmarshal(raw, &c.CourseCode); err != nil {
			return fmt.Errorf("course_code: %w", err)
		}
		delete(fields, "course_code")
	}
	if raw, ok := fields["resources"]; ok {
		if err := c.Resources.decode(raw); err != nil {
			return fmt.Errorf("course %s: %w", c.CourseCode, err)
		}
		delete(fields, "resources")
	}
	if len(fields) > 0 {
		c.Extra = fields
	}
	return nil
}

func (c Course) MarshalJSON() ([]byte, error) {
	resources, err := c.Resources.encode()
	if err != nil {
		return nil, err
	}
	return writeObject([]field{
		{key: "name", value: c.Name},
		{key: "course_code", value: c.CourseCode},
		{key: "resources", raw: resources},
	}, c.Extra)
}

// decode tolerates a missing or malformed resources object and a missing or non-array
// pyqs list; both start out empty.
func (r *Resources) decode(raw json.RawMessage) error {
	*r = Resources{PYQs: []Resource{}}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil
	}
	if pyqs, ok := fields["pyqs"]; ok {
		trimmed := bytes.TrimSpace(pyqs)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var list []Resource
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return fmt.Errorf("pyqs: %w", err)
			}
			if list != nil {
				r.PYQs = list
			}
		}
		delete(fields, "pyqs")
	}
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

func (r Resources) encode() ([]byte, error) {
	pyqs := r.PYQs
	if pyqs == nil {
		pyqs = []Resource{}
	}
	encoded, err := marshal(pyqs)
	if err != nil {
		return nil, err
	}
	return writeObject([]field{{key: "pyqs", raw: encoded}}, r.Extra)
}

func (r *Resource) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("resource: %w", err)
	}
	*r = Resource{yearSource: yearMissing}
	if raw, ok := fields["year"]; ok {
		r.yearSource = yearGiven
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			r.yearSource = yearNull
		}
		if err := json.Unmarshal(raw, &r.Year); err != nil {
			return err
		}
		delete(fields, "year")
	}
	if raw, ok := fields["file"]; ok {
		if err := json.Unmarshal(raw, &r.File); err != nil {
			return fmt.Errorf("resource file: %w", err)
		}
		delete(fields, "file")
	}
	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

func (r Resource) MarshalJSON() ([]byte, error) {
	year := field{key: "year", value: r.Year}
	if r.Year == 0 {
		switch r.yearSource {
		case yearMissing:
			year.omit = true
		case yearNull:
			year.raw = []byte("null")
		}
	}
	return writeObject([]field{
		year,
		{key: "file", value: r.File},
	}, r.Extra)
}

type field struct {
	key   string
	value any
	raw   []byte
	omit  bool
}

// writeObject emits known fields in declaration order followed by extras sorted by key.
func writeObject(known []field, extra map[string]json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, value []byte) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		encodedKey, err := marshal(key)
		if err != nil {
			return err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		buf.Write(value)
		return nil
	}
	for _, f := range known {
		if f.omit {
			continue
		}
		value := f.raw
		if value == nil {
			encoded, err := marshal(f.value)
			if err != nil {
				return nil, err
			}
			value = encoded
		}
		if err := write(f.key, value); err != nil {
			return nil, err
		}
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
