// Package filter narrows record lists for presentation. It is pure: records
// are never modified and the input slice is not reordered.
package filter

import (
	"net/url"
	"strings"

	"github.com/mschirtzinger/postlink/internal/datenorm"
)

// Record is anything with searchable text fields and an optional date.
type Record interface {
	TextFields() map[string]string
	CalendarDate() *datenorm.Date
}

// Predicates maps a field name to the values it may take. A record matches
// when, for every field, its value equals one of the listed values
// (case-insensitive). Fields with no values are ignored.
type Predicates map[string][]string

// Query is a full filter: predicates, a search term and a date window.
type Query struct {
	Predicates Predicates
	Search     string

	// From and To bound the record date, inclusive. Records without a date
	// are excluded once either bound is set.
	From *datenorm.Date
	To   *datenorm.Date
}

// Empty reports whether q matches everything.
func (q Query) Empty() bool {
	return q.From == nil && q.To == nil && strings.TrimSpace(q.Search) == "" && q.Predicates.empty()
}

func (p Predicates) empty() bool {
	for _, vals := range p {
		if len(vals) > 0 {
			return false
		}
	}
	return true
}

var reserved = map[string]bool{"q": true, "from": true, "to": true}

// ParseQuery reads a Query from URL parameters: q, from, to, and any other
// key as a predicate. Unparseable date bounds are ignored.
func ParseQuery(values url.Values) Query {
	q := Query{
		Search: values.Get("q"),
		From:   datenorm.Optional(values.Get("from")),
		To:     datenorm.Optional(values.Get("to")),
	}
	for key, vals := range values {
		if reserved[key] {
			continue
		}
		var kept []string
		for _, v := range vals {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			continue
		}
		if q.Predicates == nil {
			q.Predicates = make(Predicates)
		}
		q.Predicates[strings.ToLower(key)] = kept
	}
	return q
}

// Apply keeps the records matching every predicate and the search term.
func Apply[T Record](records []T, predicates Predicates, search string) []T {
	return Select(records, Query{Predicates: predicates, Search: search})
}

// Select keeps the records matching q.
func Select[T Record](records []T, q Query) []T {
	out := make([]T, 0, len(records))
	if q.Empty() {
		return append(out, records...)
	}
	term := strings.ToLower(strings.TrimSpace(q.Search))
	for _, r := range records {
		fields := r.TextFields()
		if !matchPredicates(fields, q.Predicates) {
			continue
		}
		if term != "" && !matchSearch(fields, r.CalendarDate(), term) {
			continue
		}
		if !inWindow(r.CalendarDate(), q.From, q.To) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchPredicates(fields map[string]string, preds Predicates) bool {
	for field, allowed := range preds {
		if len(allowed) == 0 {
			continue
		}
		value := strings.TrimSpace(fields[strings.ToLower(field)])
		ok := false
		for _, a := range allowed {
			if strings.EqualFold(value, strings.TrimSpace(a)) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func matchSearch(fields map[string]string, d *datenorm.Date, term string) bool {
	for _, v := range fields {
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return d != nil && strings.Contains(d.String(), term)
}

func inWindow(d, from, to *datenorm.Date) bool {
	if from == nil && to == nil {
		return true
	}
	if d == nil {
		return false
	}
	if from != nil && d.Before(*from) {
		return false
	}
	if to != nil && d.After(*to) {
		return false
	}
	return true
}
