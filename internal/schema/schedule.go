// Package schema defines the two linked record collections: schedule
// entries and the posts derived from them.
//
// Records are closed structs. Partial updates travel as patches whose
// fields are explicit Field slots, so the cascade can merge several derived
// changes into one mutation without guessing at dynamic keys.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/postlink/internal/datenorm"
)

// ProvisionalPrefix marks ids assigned by a client before the server has
// acknowledged the record.
const ProvisionalPrefix = "tmp-"

// NewProvisionalID returns a fresh client-side id.
func NewProvisionalID() string {
	return ProvisionalPrefix + uuid.NewString()
}

// IsProvisional reports whether id was assigned locally.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// ScheduleEntry is a dated work item that may anchor posts.
type ScheduleEntry struct {
	ID             string         `json:"id"`
	DueDate        *datenorm.Date `json:"dueDate"`
	MissedDeadline bool           `json:"missedDeadline"`

	Market  string `json:"market,omitempty"`
	Client  string `json:"client,omitempty"`
	Project string `json:"project,omitempty"`
	Task    string `json:"task,omitempty"`
	Team    string `json:"team,omitempty"`
	Notes   string `json:"notes,omitempty"`

	// Version is bumped by storage on every write.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordID implements Record.
func (s *ScheduleEntry) RecordID() string { return s.ID }

// RecordVersion implements Record.
func (s *ScheduleEntry) RecordVersion() int64 { return s.Version }

// Clone returns a deep copy.
func (s *ScheduleEntry) Clone() *ScheduleEntry {
	if s == nil {
		return nil
	}
	c := *s
	if s.DueDate != nil {
		c.DueDate = datenorm.Ptr(*s.DueDate)
	}
	return &c
}

// Validate checks the fields storage relies on.
func (s *ScheduleEntry) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil schedule entry", ErrInvalid)
	}
	if s.DueDate != nil && s.DueDate.IsZero() {
		return fmt.Errorf("%w: due date is zero", ErrInvalid)
	}
	return nil
}

// TextFields returns the descriptive fields keyed by their JSON names.
// Filtering and option learning read records through this view.
func (s *ScheduleEntry) TextFields() map[string]string {
	return map[string]string{
		"market":  s.Market,
		"client":  s.Client,
		"project": s.Project,
		"task":    s.Task,
		"team":    s.Team,
		"notes":   s.Notes,
	}
}

// CalendarDate returns the due date.
func (s *ScheduleEntry) CalendarDate() *datenorm.Date { return s.DueDate }

// SchedulePatch is a partial update to a ScheduleEntry.
type SchedulePatch struct {
	DueDate        Field[datenorm.Date] `json:"dueDate,omitzero"`
	MissedDeadline Field[bool]          `json:"missedDeadline,omitzero"`
	Market         Field[string]        `json:"market,omitzero"`
	Client         Field[string]        `json:"client,omitzero"`
	Project        Field[string]        `json:"project,omitzero"`
	Task           Field[string]        `json:"task,omitzero"`
	Team           Field[string]        `json:"team,omitzero"`
	Notes          Field[string]        `json:"notes,omitzero"`
}

// Apply returns a copy of s with the patch applied.
func (p SchedulePatch) Apply(s *ScheduleEntry) *ScheduleEntry {
	out := s.Clone()
	if p.DueDate.Set {
		out.DueDate = p.DueDate.Ptr()
	}
	if p.MissedDeadline.Set {
		out.MissedDeadline = p.MissedDeadline.V
	}
	applyString(&out.Market, p.Market)
	applyString(&out.Client, p.Client)
	applyString(&out.Project, p.Project)
	applyString(&out.Task, p.Task)
	applyString(&out.Team, p.Team)
	applyString(&out.Notes, p.Notes)
	return out
}

// Empty reports whether the patch changes nothing.
func (p SchedulePatch) Empty() bool {
	return !p.DueDate.Set && !p.MissedDeadline.Set && !p.Market.Set && !p.Client.Set &&
		!p.Project.Set && !p.Task.Set && !p.Team.Set && !p.Notes.Set
}

func applyString(dst *string, f Field[string]) {
	if !f.Set {
		return
	}
	if f.Null {
		*dst = ""
		return
	}
	*dst = f.V
}
