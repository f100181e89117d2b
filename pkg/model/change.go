package model

import (
	"fmt"
)

// ChangeKind discriminates the mutations a commit may carry.
type ChangeKind string

const (
	// ChangeKindUpsert creates or replaces the file at Path with Content
	ChangeKindUpsert ChangeKind = "UPSERT"

	// ChangeKindRemove deletes the file or directory subtree at Path
	ChangeKindRemove ChangeKind = "REMOVE"

	// ChangeKindRename moves the file or directory subtree at Path to NewPath
	ChangeKindRename ChangeKind = "RENAME"
)

// Change is one mutation of a repository tree.
type Change struct {
	Path    string     `json:"path" yaml:"path"`
	Kind    ChangeKind `json:"kind" yaml:"kind"`
	Content []byte     `json:"content,omitempty" yaml:"content,omitempty"`
	NewPath string     `json:"newPath,omitempty" yaml:"newPath,omitempty"`
	_       struct{}
}

// Normalize validates the change and returns a copy with normalized paths.
func (c Change) Normalize() (Change, error) {
	pth, err := NormalizePath(c.Path)
	if err != nil {
		return Change{}, err
	}
	c.Path = pth
	switch c.Kind {
	case ChangeKindUpsert:
		if c.NewPath != "" {
			return Change{}, fmt.Errorf("invalid change: upsert of %s does not take a new path", c.Path)
		}
	case ChangeKindRemove:
		if c.NewPath != "" {
			return Change{}, fmt.Errorf("invalid change: removal of %s does not take a new path", c.Path)
		}
		if c.Content != nil {
			return Change{}, fmt.Errorf("invalid change: removal of %s does not take content", c.Path)
		}
	case ChangeKindRename:
		if c.Content != nil {
			return Change{}, fmt.Errorf("invalid change: rename of %s does not take content", c.Path)
		}
		newPath, err := NormalizePath(c.NewPath)
		if err != nil {
			return Change{}, err
		}
		if newPath == c.Path {
			return Change{}, fmt.Errorf("invalid change: rename of %s onto itself", c.Path)
		}
		if IsPathPrefix(c.Path, newPath) {
			return Change{}, fmt.Errorf("invalid change: rename of %s into its own subtree %s", c.Path, newPath)
		}
		c.NewPath = newPath
	default:
		return Change{}, fmt.Errorf("invalid change: unknown kind %q for %s", c.Kind, c.Path)
	}
	return c, nil
}

// NormalizeChanges validates and normalizes a change list, preserving order.
func NormalizeChanges(changes []Change) ([]Change, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	normalized := make([]Change, 0, len(changes))
	for _, c := range changes {
		nc, err := c.Normalize()
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, nc)
	}
	return normalized, nil
}

// Touches lists the paths whose history this change intersects. Renames
// touch both ends.
func (c Change) Touches() []string {
	if c.Kind == ChangeKindRename {
		return []string{c.Path, c.NewPath}
	}
	return []string{c.Path}
}

func (c Change) String() string {
	if c.Kind == ChangeKindRename {
		return fmt.Sprintf("%s %s -> %s", c.Kind, c.Path, c.NewPath)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Path)
}
