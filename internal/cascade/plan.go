// Package cascade propagates schedule entry changes to the posts linked to
// them.
//
// Three triggers are evaluated independently on every change: a deleted
// entry orphans its posts, a moved due date re-derives each post's date from
// its offset, and a newly missed deadline puts every unfinished post on
// standby. Triggers that hit the same post are merged into one mutation.
package cascade

import (
	"sort"

	"github.com/mschirtzinger/postlink/internal/datenorm"
	"github.com/mschirtzinger/postlink/internal/schema"
)

// PostMutation is the merged cascade patch for one post.
type PostMutation struct {
	PostID string           `json:"postId"`
	Patch  schema.PostPatch `json:"patch"`
}

// Trigger records which cascade rules a schedule change fires.
type Trigger struct {
	ScheduleID string

	// Deleted is set when the entry no longer exists.
	Deleted bool

	// DateChanged is set when the due date moved, including to or from null.
	DateChanged bool

	// Anchor is the new due date; nil means posts keep their date.
	Anchor *datenorm.Date

	// MissedDeadline is set on a false to true transition only.
	MissedDeadline bool
}

// Fires reports whether any rule applies.
func (t Trigger) Fires() bool {
	return t.Deleted || t.DateChanged || t.MissedDeadline
}

// Detect compares two states of a schedule entry. prev is nil for a create,
// next is nil for a delete.
func Detect(prev, next *schema.ScheduleEntry) Trigger {
	switch {
	case prev == nil && next == nil:
		return Trigger{}
	case next == nil:
		return Trigger{ScheduleID: prev.ID, Deleted: true}
	}

	t := Trigger{ScheduleID: next.ID, Anchor: next.DueDate}
	var prevDue *datenorm.Date
	prevMissed := false
	if prev != nil {
		prevDue = prev.DueDate
		prevMissed = prev.MissedDeadline
	}
	t.DateChanged = !datenorm.EqualPtr(prevDue, next.DueDate)
	t.MissedDeadline = next.MissedDeadline && !prevMissed
	return t
}

// Plan computes the cascade mutations for a schedule change against the
// posts linked to it. It is pure: nothing is read or written. Posts no rule
// applies to are left out. The result is ordered by post id.
func Plan(prev, next *schema.ScheduleEntry, linked []*schema.Post) []PostMutation {
	return planTrigger(Detect(prev, next), linked)
}

func planTrigger(t Trigger, linked []*schema.Post) []PostMutation {
	if !t.Fires() {
		return nil
	}
	var out []PostMutation
	for _, p := range linked {
		if !p.LinkedTo(t.ScheduleID) {
			continue
		}
		patch := planPost(t, p)
		if patch.Empty() {
			continue
		}
		out = append(out, PostMutation{PostID: p.ID, Patch: patch})
	}
	sort.Slice(out, func(i, j int) bool {
		return lessID(out[i].PostID, out[j].PostID)
	})
	return out
}

// planPost merges every rule that applies to p into one patch.
func planPost(t Trigger, p *schema.Post) schema.PostPatch {
	var patch schema.PostPatch
	if t.Deleted {
		patch = patch.Merge(schema.PostPatch{
			LinkedScheduleID:  schema.Null[string](),
			LinkedRowOrphaned: schema.Some(true),
		})
		return patch
	}
	if t.DateChanged && t.Anchor != nil {
		patch = patch.Merge(schema.PostPatch{
			PostDate: schema.Some(t.Anchor.AddDays(p.LinkedDateOffset)),
		})
	}
	if t.MissedDeadline && p.Status != schema.StatusComplete {
		patch = patch.Merge(schema.PostPatch{
			Status: schema.Some(schema.StatusStandby),
		})
	}
	return patch
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
