package mockserver

import "errors"

// ErrConfig indicates invalid mock backend configuration.
var ErrConfig = errors.New("mockserver: invalid config")
