package config

import "errors"

// ErrInvalid reports a configuration value that fails validation.
// The CLI treats it as terminal.
var ErrInvalid = errors.New("invalid configuration")

// IsInvalid reports whether err is a configuration validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
