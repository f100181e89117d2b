// Package mirror schedules periodic synchronization between repositories
// and external locations.
//
// Mirrors are configured per project: the meta repository holds a
// /mirrors.yaml document listing descriptors. The scheduler re-reads the
// document whenever the meta repository's head moves, so mirror changes
// take effect like any other committed configuration. The sync transport
// itself is pluggable through the Syncer interface.
package mirror

import (
	"fmt"

	yaml "gopkg.in/yaml.v2"

	"github.com/treelinehq/treeline/pkg/config"
	"github.com/treelinehq/treeline/pkg/mirror/status"
)

// DescriptorsPath is where each project declares its mirrors, inside the
// meta repository.
const DescriptorsPath = "/mirrors.yaml"

// Direction tells which side of a mirror is authoritative.
type Direction string

// Supported mirror directions.
const (
	RemoteToLocal Direction = "remote-to-local"
	LocalToRemote Direction = "local-to-remote"
)

// Descriptor configures one mirror of one repository.
type Descriptor struct {
	ID        string          `json:"id" yaml:"id"`
	Enabled   bool            `json:"enabled" yaml:"enabled"`
	Direction Direction       `json:"direction" yaml:"direction"`
	LocalRepo string          `json:"localRepo" yaml:"localRepo"`
	RemoteURI string          `json:"remoteURI" yaml:"remoteURI"`
	Interval  config.Duration `json:"interval" yaml:"interval"`

	_ struct{}
}

// Validate checks a single descriptor.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return status.ErrInvalidMirror.WrapMessage("a mirror needs an id")
	}
	switch d.Direction {
	case RemoteToLocal, LocalToRemote:
	default:
		return status.ErrInvalidMirror.WrapMessage(
			"mirror %s: unknown direction %q", d.ID, d.Direction)
	}
	if d.LocalRepo == "" {
		return status.ErrInvalidMirror.WrapMessage("mirror %s: localRepo is required", d.ID)
	}
	if d.RemoteURI == "" {
		return status.ErrInvalidMirror.WrapMessage("mirror %s: remoteURI is required", d.ID)
	}
	if d.Interval <= 0 {
		return status.ErrInvalidMirror.WrapMessage("mirror %s: interval must be positive", d.ID)
	}
	return nil
}

// ParseDescriptors decodes and validates a /mirrors.yaml document: a YAML
// sequence of descriptors. One invalid descriptor rejects the whole
// document, so a bad edit never half-applies.
func ParseDescriptors(doc []byte) ([]Descriptor, error) {
	var descriptors []Descriptor
	if err := yaml.Unmarshal(doc, &descriptors); err != nil {
		return nil, status.ErrInvalidMirror.Wrap(fmt.Errorf("cannot parse %s: %w", DescriptorsPath, err))
	}
	ids := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := ids[d.ID]; dup {
			return nil, status.ErrInvalidMirror.WrapMessage("duplicate mirror id %s", d.ID)
		}
		ids[d.ID] = struct{}{}
	}
	return descriptors, nil
}
