package services

import "errors"

// ErrInvalidRange is returned for reporting ranges that select nothing.
var ErrInvalidRange = errors.New("invalid time range")
