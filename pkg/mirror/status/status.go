// Package status declares the sentinel errors returned by mirror
// operations.
package status

import (
	"github.com/treelinehq/treeline/pkg/errors"
)

var (
	// ErrInvalidMirror indicates a mirror descriptor that cannot be used.
	ErrInvalidMirror = errors.New("mirror descriptor is invalid")
)
