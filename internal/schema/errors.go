package schema

import "errors"

// ErrInvalid is returned for records or patches that fail validation.
var ErrInvalid = errors.New("invalid record")
