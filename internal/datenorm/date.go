// Package datenorm normalizes the many shapes a calendar date arrives in
// (ISO dates, timestamps, time values, free-form strings) into a single
// timezone-naive Date.
//
// A Date carries only year, month and day. It is never converted through a
// time zone, so "2025-03-10" stays the 10th of March no matter where the
// process runs.
package datenorm

import (
	"encoding/json"
	"fmt"
	"time"
)

// Layout is the canonical wire and storage format for a Date.
const Layout = "2006-01-02"

// Date is a calendar date without time or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New builds a Date, normalizing overflowed components (e.g. Feb 30 -> Mar 2).
func New(year int, month time.Month, day int) Date {
	return FromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// FromTime takes the wall-clock date of t in its own location.
func FromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Equal compares (year, month, day) only.
func (d Date) Equal(other Date) bool {
	return d.Year == other.Year && d.Month == other.Month && d.Day == other.Day
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.time().Before(other.time())
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool {
	return d.time().After(other.time())
}

// AddDays shifts d by n days; n may be negative.
func (d Date) AddDays(n int) Date {
	return FromTime(d.time().AddDate(0, 0, n))
}

// DaysUntil returns the signed number of days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.time().Sub(d.time()).Hours() / 24)
}

// String formats d as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// time anchors d at UTC midnight. UTC has no DST, so day arithmetic is exact.
func (d Date) time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// MarshalJSON encodes d as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts any string Normalize understands.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := Normalize(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Ptr returns a pointer to a copy of d.
func Ptr(d Date) *Date {
	return &d
}

// EqualPtr compares two nullable dates; two nils are equal.
func EqualPtr(a, b *Date) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
