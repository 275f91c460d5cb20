package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the workflow state of a Post.
type Status string

const (
	StatusInProgress Status = "In Progress"
	StatusStandby    Status = "Standby"
	StatusPending    Status = "Pending"
	StatusComplete   Status = "Complete"
)

// Statuses lists every valid Status in display order.
var Statuses = []Status{StatusInProgress, StatusStandby, StatusPending, StatusComplete}

// ParseStatus accepts any casing and spacing/underscore/dash variant of a
// status name ("in_progress", "IN PROGRESS", "inprogress").
func ParseStatus(s string) (Status, error) {
	key := compactStatus(s)
	for _, st := range Statuses {
		if compactStatus(string(st)) == key {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalid, s)
}

func compactStatus(s string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(s)))
}

// UnmarshalJSON canonicalizes the status on the way in.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("status must be a string: %w", err)
	}
	if raw == "" {
		*s = ""
		return nil
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
