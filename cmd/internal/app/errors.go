package app

import "errors"

// ErrConfig wraps every configuration failure reported by LoadConfig and New.
var ErrConfig = errors.New("app: invalid config")
