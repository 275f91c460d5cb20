package datenorm

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_ISODateIgnoresLocalZone(t *testing.T) {
	orig := time.Local
	t.Cleanup(func() { time.Local = orig })

	for _, zone := range []*time.Location{
		time.FixedZone("far-west", -11*3600),
		time.FixedZone("far-east", 14*3600),
		time.UTC,
	} {
		time.Local = zone
		d, err := Normalize("2025-03-10")
		require.NoError(t, err)
		assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 10}, d, "zone %s", zone)
	}
}

func TestNormalize_Inputs(t *testing.T) {
	want := New(2025, time.June, 1)

	tests := []struct {
		name  string
		input any
	}{
		{"iso date", "2025-06-01"},
		{"iso timestamp utc", "2025-06-01T23:30:00Z"},
		{"iso timestamp offset", "2025-06-01T00:15:00+09:00"},
		{"sql timestamp", "2025-06-01 08:00:00"},
		{"us slashes", "06/01/2025"},
		{"us short", "6/1/2025"},
		{"month name", "June 1, 2025"},
		{"short month", "Jun 1, 2025"},
		{"js toString", "Sun Jun 01 2025 00:00:00 GMT+0200 (Central European Summer Time)"},
		{"time value", time.Date(2025, 6, 1, 22, 0, 0, 0, time.FixedZone("x", -5*3600))},
		{"date value", want},
		{"date pointer", &want},
		{"padded", "  2025-06-01  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(want), "got %s", got)
		})
	}
}

func TestNormalize_FreeForm(t *testing.T) {
	base := time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC) // Wednesday
	n := NewNormalizer(func() time.Time { return base })

	got, err := n.Normalize("tomorrow")
	require.NoError(t, err)
	assert.Equal(t, New(2025, time.June, 5), got)

	got, err = n.Normalize("  Tomorrow ")
	require.NoError(t, err)
	assert.Equal(t, New(2025, time.June, 5), got)

	_, err = n.Normalize("review tomorrow")
	assert.ErrorIs(t, err, ErrParse)
}

func TestNormalize_Errors(t *testing.T) {
	inputs := []any{
		"",
		"   ",
		"qqq zzz",
		"call client at 5pm",
		"ship it tomorrow",
		"2025-13-01",
		"2025-02-30",
		42,
		nil,
		time.Time{},
		(*Date)(nil),
	}
	for _, in := range inputs {
		_, err := Normalize(in)
		require.Error(t, err, "input %#v", in)
		assert.True(t, errors.Is(err, ErrParse), "input %#v", in)

		var pe *ParseError
		assert.True(t, errors.As(err, &pe))
	}
}

func TestOptional_DegradesToNil(t *testing.T) {
	assert.Nil(t, Optional("garbage ###"))
	d := Optional("2025-01-31")
	require.NotNil(t, d)
	assert.Equal(t, "2025-01-31", d.String())
}

func TestDate_Arithmetic(t *testing.T) {
	d := New(2025, time.June, 1)

	assert.Equal(t, "2025-05-29", d.AddDays(-3).String())
	assert.Equal(t, "2025-07-01", d.AddDays(30).String())
	assert.Equal(t, "2024-03-01", New(2024, time.February, 28).AddDays(2).String())
	assert.Equal(t, 14, d.DaysUntil(New(2025, time.June, 15)))
	assert.Equal(t, -3, d.DaysUntil(d.AddDays(-3)))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.After(d.AddDays(-1)))
}

func TestDate_AddDaysIsNotCumulative(t *testing.T) {
	due := New(2025, time.June, 15)
	first := due.AddDays(-3)
	second := due.AddDays(-3)
	assert.True(t, first.Equal(second))
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		When *Date `json:"when"`
	}

	data, err := json.Marshal(wrapper{When: Ptr(New(2025, time.June, 12))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"when":"2025-06-12"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"when":"2025-06-12T10:00:00Z"}`), &w))
	require.NotNil(t, w.When)
	assert.Equal(t, "2025-06-12", w.When.String())

	require.NoError(t, json.Unmarshal([]byte(`{"when":null}`), &w))
	assert.Nil(t, w.When)

	assert.Error(t, json.Unmarshal([]byte(`{"when":"nope nope"}`), &w))
}

func TestEqualPtr(t *testing.T) {
	a := Ptr(New(2025, 1, 1))
	b := Ptr(New(2025, 1, 1))
	assert.True(t, EqualPtr(nil, nil))
	assert.True(t, EqualPtr(a, b))
	assert.False(t, EqualPtr(a, nil))
	assert.False(t, EqualPtr(a, Ptr(New(2025, 1, 2))))
}
