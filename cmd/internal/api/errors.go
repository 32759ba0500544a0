package api

import "errors"

// ErrInvalidInput is returned before any request is sent when a payload or id fails validation.
var ErrInvalidInput = errors.New("invalid input")
