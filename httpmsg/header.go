// Package httpmsg is the byte-level HTTP/1.1 codec: it parses and
// serializes request/response messages off a raw net.Conn, including
// Content-Length and chunked body framing, without going through net/http.
package httpmsg

import (
	"encoding/json"
	"strings"
)

// HeaderField is a single header line, preserving the exact name casing it
// was parsed with.
type HeaderField struct {
	Name  string
	Value string
}

// Header is an ordered, case-insensitive multimap of header fields. Order
// is preserved on emit; duplicate names are kept as separate entries,
// matching HTTP/1.1 multi-value header semantics (spec.md §3).
type Header struct {
	fields []HeaderField
}

// NewHeader returns an empty Header.
func NewHeader() *Header {
	return &Header{}
}

// Add appends a header field, keeping any existing fields with the same
// name (case-insensitive).
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Set replaces all fields named name (case-insensitive) with a single
// field carrying value. If none existed, it behaves like Add.
func (h *Header) Set(name, value string) {
	h.Del(name)
	h.Add(name, value)
}

// Del removes every field named name (case-insensitive).
func (h *Header) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Get returns the value of the first field named name (case-insensitive),
// and whether it was present at all.
func (h *Header) Get(name string) (string, bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns every value recorded under name, in insertion order.
func (h *Header) Values(name string) []string {
	var vals []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			vals = append(vals, f.Value)
		}
	}
	return vals
}

// Has reports whether name is present (case-insensitive), regardless of
// value.
func (h *Header) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Fields returns the ordered list of header fields. The returned slice must
// not be mutated by the caller; use the Header's own methods instead.
func (h *Header) Fields() []HeaderField {
	return h.fields
}

// Clone returns a deep copy, so that interceptors can mutate the message
// they receive without affecting the flow's recorded original (spec.md §4.5:
// "interceptors may mutate only the message they receive").
func (h *Header) Clone() *Header {
	if h == nil {
		return NewHeader()
	}
	clone := &Header{fields: make([]HeaderField, len(h.fields))}
	copy(clone.fields, h.fields)
	return clone
}

// MarshalJSON serializes the ordered field list directly, so a Header
// round-trips through the flow store without losing duplicate names or
// order.
func (h *Header) MarshalJSON() ([]byte, error) {
	if h == nil {
		return json.Marshal([]HeaderField{})
	}
	return json.Marshal(h.fields)
}

// UnmarshalJSON restores a Header from the field list MarshalJSON wrote.
func (h *Header) UnmarshalJSON(data []byte) error {
	var fields []HeaderField
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	h.fields = fields
	return nil
}
