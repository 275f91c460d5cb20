package schema

import (
	"bytes"
	"encoding/json"

	"github.com/mschirtzinger/postlink/internal/datenorm"
)

// Record and patch date fields decode leniently: a value datenorm cannot
// read becomes "no date" instead of failing the whole record.

// UnmarshalJSON implements json.Unmarshaler.
func (s *ScheduleEntry) UnmarshalJSON(data []byte) error {
	type plain ScheduleEntry
	aux := struct {
		*plain
		DueDate json.RawMessage `json:"dueDate"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.DueDate != nil {
		s.DueDate = lenientDate(aux.DueDate)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Post) UnmarshalJSON(data []byte) error {
	type plain Post
	aux := struct {
		*plain
		PostDate json.RawMessage `json:"postDate"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.PostDate != nil {
		p.PostDate = lenientDate(aux.PostDate)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. An unreadable due date clears
// the field.
func (p *SchedulePatch) UnmarshalJSON(data []byte) error {
	type plain SchedulePatch
	aux := struct {
		*plain
		DueDate Field[json.RawMessage] `json:"dueDate"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.DueDate.Set {
		p.DueDate = lenientDateField(aux.DueDate)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. An unreadable post date clears
// the field.
func (pp *PostPatch) UnmarshalJSON(data []byte) error {
	type plain PostPatch
	aux := struct {
		*plain
		PostDate Field[json.RawMessage] `json:"postDate"`
	}{plain: (*plain)(pp)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.PostDate.Set {
		pp.PostDate = lenientDateField(aux.PostDate)
	}
	return nil
}

func lenientDate(raw json.RawMessage) *datenorm.Date {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return datenorm.Optional(s)
}

func lenientDateField(f Field[json.RawMessage]) Field[datenorm.Date] {
	if f.Null {
		return Null[datenorm.Date]()
	}
	d := lenientDate(f.V)
	if d == nil {
		return Null[datenorm.Date]()
	}
	return Some(*d)
}
