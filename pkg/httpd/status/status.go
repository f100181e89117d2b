// Package status enumerates the errors reported by the HTTP server.
package status

import (
	"github.com/treelinehq/treeline/pkg/errors"
)

var (
	// ErrTLSConfig indicates an unusable TLS configuration, such as a
	// certificate without its key.
	ErrTLSConfig = errors.New("tls configuration is unusable")
)
