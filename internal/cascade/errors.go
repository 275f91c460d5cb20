package cascade

import "fmt"

// LinkIntegrityWarning reports a post whose linked schedule id does not
// resolve. It is logged and reflected as linkedRowOrphaned, never returned
// to the caller of a write.
type LinkIntegrityWarning struct {
	PostID     string
	ScheduleID string
}

func (w *LinkIntegrityWarning) Error() string {
	if w.PostID == "" {
		return fmt.Sprintf("new post links to missing schedule entry %s", w.ScheduleID)
	}
	return fmt.Sprintf("post %s links to missing schedule entry %s", w.PostID, w.ScheduleID)
}
