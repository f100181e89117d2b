package model

import (
	"fmt"
	"time"
)

// CommitDescriptor records one atomic change set applied to a repository.
//
// Commits are immutable once written: replaying the changes of commits
// 1..N over the empty tree always reproduces the tree whose hash is the
// TreeHash of commit N.
type CommitDescriptor struct {
	Project      string      `json:"project" yaml:"project"`
	Repository   string      `json:"repository" yaml:"repository"`
	Revision     Revision    `json:"revision" yaml:"revision"`
	BaseRevision Revision    `json:"baseRevision" yaml:"baseRevision"`
	Author       Contributor `json:"author" yaml:"author"`
	Summary      string      `json:"summary" yaml:"summary"`
	Detail       string      `json:"detail,omitempty" yaml:"detail,omitempty"`
	Timestamp    time.Time   `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Changes      []Change    `json:"changes" yaml:"changes"`
	TreeHash     string      `json:"treeHash" yaml:"treeHash"`
	_            struct{}
}

// Validate the commit descriptor fields
func (c CommitDescriptor) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("empty field: commit project is empty")
	}
	if c.Repository == "" {
		return fmt.Errorf("empty field: commit repository is empty")
	}
	if c.Revision < InitialRevision {
		return fmt.Errorf("invalid revision: commit revision %d is not positive", c.Revision)
	}
	if c.Revision > InitialRevision && c.BaseRevision != c.Revision-1 {
		return fmt.Errorf("invalid revision: commit %d does not follow its base %d", c.Revision, c.BaseRevision)
	}
	return nil
}
