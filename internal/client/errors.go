package client

import "errors"

var (
	// ErrRecordBusy is returned when a record already has a request in
	// flight.
	ErrRecordBusy = errors.New("record has a request in flight")

	// ErrUnknownRecord is returned for ids the store does not hold.
	ErrUnknownRecord = errors.New("unknown record")

	// ErrLinkDiscarded is returned for a post linked to a provisional
	// schedule entry whose creation failed.
	ErrLinkDiscarded = errors.New("linked schedule entry was discarded")

	// ErrNotEditing is returned by CancelEdit for a record not being edited.
	ErrNotEditing = errors.New("record is not being edited")
)
