package schema

import (
	"fmt"
	"time"

	"github.com/mschirtzinger/postlink/internal/datenorm"
)

// Post is a content item, optionally linked to a ScheduleEntry.
//
// The link is weak: the post owns it, and deleting the schedule entry only
// orphans the post.
type Post struct {
	ID                string         `json:"id"`
	PostDate          *datenorm.Date `json:"postDate"`
	Status            Status         `json:"status"`
	LinkedScheduleID  *string        `json:"linkedScheduleId"`
	LinkedDateOffset  int            `json:"linkedDateOffset"`
	LinkedRowOrphaned bool           `json:"linkedRowOrphaned"`

	Client   string `json:"client,omitempty"`
	Market   string `json:"market,omitempty"`
	Platform string `json:"platform,omitempty"`
	Title    string `json:"title,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Notes    string `json:"notes,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordID implements Record.
func (p *Post) RecordID() string { return p.ID }

// RecordVersion implements Record.
func (p *Post) RecordVersion() int64 { return p.Version }

// LinkedTo reports whether p is linked to scheduleID.
func (p *Post) LinkedTo(scheduleID string) bool {
	return p.LinkedScheduleID != nil && *p.LinkedScheduleID == scheduleID
}

// Clone returns a deep copy.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	if p.PostDate != nil {
		c.PostDate = datenorm.Ptr(*p.PostDate)
	}
	if p.LinkedScheduleID != nil {
		id := *p.LinkedScheduleID
		c.LinkedScheduleID = &id
	}
	return &c
}

// Validate checks the fields storage relies on. An empty status is filled
// with StatusPending.
func (p *Post) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil post", ErrInvalid)
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if _, err := ParseStatus(string(p.Status)); err != nil {
		return err
	}
	if p.PostDate != nil && p.PostDate.IsZero() {
		return fmt.Errorf("%w: post date is zero", ErrInvalid)
	}
	if p.LinkedScheduleID != nil && *p.LinkedScheduleID == "" {
		return fmt.Errorf("%w: empty linked schedule id", ErrInvalid)
	}
	return nil
}

// TextFields returns the descriptive fields keyed by their JSON names.
func (p *Post) TextFields() map[string]string {
	return map[string]string{
		"client":   p.Client,
		"market":   p.Market,
		"platform": p.Platform,
		"title":    p.Title,
		"caption":  p.Caption,
		"notes":    p.Notes,
		"status":   string(p.Status),
	}
}

// CalendarDate returns the post date.
func (p *Post) CalendarDate() *datenorm.Date { return p.PostDate }

// PostPatch is a partial update to a Post. The cascade only ever sets
// PostDate, Status, LinkedScheduleID and LinkedRowOrphaned.
type PostPatch struct {
	PostDate          Field[datenorm.Date] `json:"postDate,omitzero"`
	Status            Field[Status]        `json:"status,omitzero"`
	LinkedScheduleID  Field[string]        `json:"linkedScheduleId,omitzero"`
	LinkedDateOffset  Field[int]           `json:"linkedDateOffset,omitzero"`
	LinkedRowOrphaned Field[bool]          `json:"linkedRowOrphaned,omitzero"`
	Client            Field[string]        `json:"client,omitzero"`
	Market            Field[string]        `json:"market,omitzero"`
	Platform          Field[string]        `json:"platform,omitzero"`
	Title             Field[string]        `json:"title,omitzero"`
	Caption           Field[string]        `json:"caption,omitzero"`
	Notes             Field[string]        `json:"notes,omitzero"`
}

// Apply returns a copy of p with the patch applied.
func (pp PostPatch) Apply(p *Post) *Post {
	out := p.Clone()
	if pp.PostDate.Set {
		out.PostDate = pp.PostDate.Ptr()
	}
	if pp.Status.Set && !pp.Status.Null {
		out.Status = pp.Status.V
	}
	if pp.LinkedScheduleID.Set {
		out.LinkedScheduleID = pp.LinkedScheduleID.Ptr()
	}
	if pp.LinkedDateOffset.Set {
		out.LinkedDateOffset = pp.LinkedDateOffset.V
	}
	if pp.LinkedRowOrphaned.Set {
		out.LinkedRowOrphaned = pp.LinkedRowOrphaned.V
	}
	applyString(&out.Client, pp.Client)
	applyString(&out.Market, pp.Market)
	applyString(&out.Platform, pp.Platform)
	applyString(&out.Title, pp.Title)
	applyString(&out.Caption, pp.Caption)
	applyString(&out.Notes, pp.Notes)
	return out
}

// Merge overlays other on top of pp; slots set in other win.
func (pp PostPatch) Merge(other PostPatch) PostPatch {
	out := pp
	mergeField(&out.PostDate, other.PostDate)
	mergeField(&out.Status, other.Status)
	mergeField(&out.LinkedScheduleID, other.LinkedScheduleID)
	mergeField(&out.LinkedDateOffset, other.LinkedDateOffset)
	mergeField(&out.LinkedRowOrphaned, other.LinkedRowOrphaned)
	mergeField(&out.Client, other.Client)
	mergeField(&out.Market, other.Market)
	mergeField(&out.Platform, other.Platform)
	mergeField(&out.Title, other.Title)
	mergeField(&out.Caption, other.Caption)
	mergeField(&out.Notes, other.Notes)
	return out
}

// Empty reports whether the patch changes nothing.
func (pp PostPatch) Empty() bool {
	return pp == PostPatch{}
}

func mergeField[T any](dst *Field[T], src Field[T]) {
	if src.Set {
		*dst = src
	}
}
