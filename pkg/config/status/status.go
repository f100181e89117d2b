// Package status exports errors produced by the config package.
package status

import (
	"github.com/treelinehq/treeline/pkg/errors"
)

var (
	// ErrInvalidConfig indicates the configuration fails validation
	ErrInvalidConfig = errors.New("configuration is invalid")

	// ErrResolverExists indicates a resolver is already registered for the prefix
	ErrResolverExists = errors.New("a value resolver is already registered for this prefix")

	// ErrInvalidPrefix indicates a resolver prefix that cannot ever match a value
	ErrInvalidPrefix = errors.New("invalid value resolver prefix")

	// ErrUnresolvedValue indicates a recognized prefix whose resolver cannot
	// produce a value, e.g. env: naming an unset variable
	ErrUnresolvedValue = errors.New("configuration value cannot be resolved")
)
