package schema

// Entity names a record collection on the wire and in storage.
type Entity string

const (
	EntitySchedule Entity = "schedule"
	EntityPost     Entity = "post"
)

// Record is implemented by *ScheduleEntry and *Post.
type Record interface {
	RecordID() string
	RecordVersion() int64
}
