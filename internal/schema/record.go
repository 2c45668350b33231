package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	fieldID      = "id"
	fieldChildID = "childId"
)

// Owner is the decoded owner tag of a record. Records created before
// multi-profile support carry no tag and report Tagged=false.
type Owner struct {
	ChildID string
	Tagged  bool
}

// OwnedBy returns a tagged owner for childID.
func OwnedBy(childID string) Owner {
	return Owner{ChildID: childID, Tagged: childID != ""}
}

// Record is one domain record in a collection.
//
// The id and owner tag are lifted out of the JSON object on decode; every
// other field is kept verbatim in Fields.
type Record struct {
	ID     string
	Owner  Owner
	Fields map[string]json.RawMessage
}

// Collection is an ordered list of records stored under one Key.
type Collection []Record

// NewRecord builds a record from plain Go values.
func NewRecord(id string, fields map[string]any) (Record, error) {
	r := Record{ID: id, Fields: make(map[string]json.RawMessage, len(fields))}
	for name, v := range fields {
		if err := r.SetField(name, v); err != nil {
			return Record{}, err
		}
	}
	return r, nil
}

// UnmarshalJSON decodes a record and parses its owner tag once.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse record: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("record must be a JSON object")
	}

	*r = Record{Fields: raw}

	if idRaw, ok := raw[fieldID]; ok {
		r.ID = scalarString(idRaw)
		delete(raw, fieldID)
	}

	if ownerRaw, ok := raw[fieldChildID]; ok {
		var childID string
		// null, numbers and other shapes count as untagged
		if err := json.Unmarshal(ownerRaw, &childID); err == nil && childID != "" {
			r.Owner = OwnedBy(childID)
		}
		delete(raw, fieldChildID)
	}

	return nil
}

// MarshalJSON writes the record back as a flat object. Keys are emitted in
// sorted order so equal records always produce equal bytes.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.ID != "" {
		id, err := json.Marshal(r.ID)
		if err != nil {
			return nil, err
		}
		out[fieldID] = id
	}
	if r.Owner.Tagged {
		owner, err := json.Marshal(r.Owner.ChildID)
		if err != nil {
			return nil, err
		}
		out[fieldChildID] = owner
	}
	return json.Marshal(out)
}

// Field returns a field as a string. Non-string scalars are returned in their
// JSON text form; missing fields return "".
func (r Record) Field(name string) string {
	raw, ok := r.Fields[name]
	if !ok {
		return ""
	}
	return scalarString(raw)
}

// SetField marshals v into the named field. The id and owner tag cannot be
// set through this path.
func (r *Record) SetField(name string, v any) error {
	if name == fieldID || name == fieldChildID {
		return fmt.Errorf("field %q is reserved", name)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal field %s: %w", name, err)
	}
	if r.Fields == nil {
		r.Fields = make(map[string]json.RawMessage)
	}
	r.Fields[name] = data
	return nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := Record{ID: r.ID, Owner: r.Owner}
	if r.Fields != nil {
		c.Fields = make(map[string]json.RawMessage, len(r.Fields))
		for k, v := range r.Fields {
			c.Fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// Index returns the position of the record with the given id, or -1.
func (c Collection) Index(id string) int {
	for i, r := range c {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	if c == nil {
		return nil
	}
	out := make(Collection, len(c))
	for i, r := range c {
		out[i] = r.Clone()
	}
	return out
}

func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
