package datenorm

import (
	"errors"
	"fmt"
)

// ErrParse is matched by every ParseError.
var ErrParse = errors.New("unparseable date")

// ParseError reports input that could not be turned into a Date.
// Callers treat it as "no date" rather than a hard failure.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable date %q", e.Input)
}

// Is makes errors.Is(err, ErrParse) true.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
