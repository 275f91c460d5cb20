package datenorm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	isoDate      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	isoTimestamp = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})[T ]`)
)

// localeLayouts are tried in order after the ISO forms. The JavaScript
// Date.toString shape is included because exported spreadsheets carry it.
var localeLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"2006/01/02",
	"2006/1/2",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Mon Jan 2 2006",
	"Mon, Jan 2, 2006",
	"Monday, January 2, 2006",
	"02-Jan-2006",
}

// Normalizer turns heterogeneous date inputs into Dates. The zero value is
// not usable; use NewNormalizer.
type Normalizer struct {
	now    func() time.Time
	parser *when.Parser
}

// NewNormalizer returns a Normalizer that resolves relative phrases
// ("next friday", "tomorrow") against now. A nil now uses time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Normalizer{now: now, parser: w}
}

var (
	defaultOnce       sync.Once
	defaultNormalizer *Normalizer
)

// Normalize uses a process-wide Normalizer anchored at time.Now.
func Normalize(input any) (Date, error) {
	defaultOnce.Do(func() {
		defaultNormalizer = NewNormalizer(nil)
	})
	return defaultNormalizer.Normalize(input)
}

// Parse is Normalize for strings.
func Parse(s string) (Date, error) {
	return Normalize(s)
}

// Optional normalizes input and returns nil for anything unparseable,
// including empty strings. This is the "degrade to no date" path.
func Optional(input any) *Date {
	d, err := Normalize(input)
	if err != nil {
		return nil
	}
	return &d
}

// Normalize converts input to a Date. Supported inputs: Date, *Date,
// time.Time, *time.Time and strings in ISO date, ISO timestamp, common
// locale or free-form English form. Anything else is a *ParseError.
func (n *Normalizer) Normalize(input any) (Date, error) {
	switch v := input.(type) {
	case Date:
		if v.IsZero() {
			return Date{}, &ParseError{Input: "zero date"}
		}
		return v, nil
	case *Date:
		if v == nil || v.IsZero() {
			return Date{}, &ParseError{Input: "nil date"}
		}
		return *v, nil
	case time.Time:
		if v.IsZero() {
			return Date{}, &ParseError{Input: "zero time"}
		}
		return FromTime(v), nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return Date{}, &ParseError{Input: "nil time"}
		}
		return FromTime(*v), nil
	case string:
		return n.parseString(v)
	default:
		return Date{}, &ParseError{Input: fmt.Sprintf("%T", input)}
	}
}

func (n *Normalizer) parseString(raw string) (Date, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Date{}, &ParseError{Input: raw}
	}

	// YYYY-MM-DD and timestamps: take the date components literally, never
	// through a zone-aware constructor.
	if m := isoDate.FindStringSubmatch(s); m != nil {
		return fromComponents(raw, m[1], m[2], m[3])
	}
	if m := isoTimestamp.FindStringSubmatch(s); m != nil {
		return fromComponents(raw, m[1], m[2], m[3])
	}

	// Drop a trailing JS-style "00:00:00 GMT+0200 (Central European ...)".
	candidate := s
	if i := strings.Index(candidate, " GMT"); i > 0 {
		candidate = candidate[:i]
	}
	candidate = stripClock(candidate)

	for _, layout := range localeLayouts {
		if t, err := time.Parse(layout, candidate); err == nil {
			return FromTime(t), nil
		}
	}

	// The phrase must be the whole input: "call client at 5pm" is a note,
	// not a date.
	r, err := n.parser.Parse(s, n.now())
	if err != nil || r == nil || r.Index != 0 || !strings.EqualFold(strings.TrimSpace(r.Text), s) {
		return Date{}, &ParseError{Input: raw}
	}
	return FromTime(r.Time), nil
}

// stripClock removes a trailing "15:04" or "15:04:05" token.
func stripClock(s string) string {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return s
	}
	last := fields[len(fields)-1]
	if strings.Count(last, ":") >= 1 {
		if _, err := time.Parse("15:04:05", last); err == nil {
			return strings.Join(fields[:len(fields)-1], " ")
		}
		if _, err := time.Parse("15:04", last); err == nil {
			return strings.Join(fields[:len(fields)-1], " ")
		}
	}
	return s
}

func fromComponents(raw, ys, ms, ds string) (Date, error) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return Date{}, &ParseError{Input: raw}
	}
	date := New(y, time.Month(m), d)
	// Reject overflow such as 2025-02-30.
	if date.Day != d || int(date.Month) != m {
		return Date{}, &ParseError{Input: raw}
	}
	return date, nil
}
