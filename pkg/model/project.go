package model

import (
	"fmt"
	"time"
	"unicode"
)

// MetaRepoName is the reserved repository every project owns for
// administrative documents (mirror descriptors, credentials pointers).
const MetaRepoName = "meta"

// Contributor who created the object
type Contributor struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
	_     struct{}
}

func (c *Contributor) String() string {
	if c.Email == "" {
		return c.Name
	}
	if c.Name == "" {
		return c.Email
	}
	return fmt.Sprintf("%s <%s>", c.Name, c.Email)
}

// ProjectDescriptor represents a project, the unit of ownership for repositories.
type ProjectDescriptor struct {
	Name      string      `json:"name" yaml:"name"`
	Timestamp time.Time   `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Creator   Contributor `json:"creator,omitempty" yaml:"creator,omitempty"`
	_         struct{}
}

// Validate the project descriptor fields
func (p ProjectDescriptor) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("empty field: project name is empty")
	}
	return validateName("project", p.Name)
}

// RepoDescriptor represents a repository: an append-only sequence of commits
// over a tree of configuration files.
type RepoDescriptor struct {
	Project   string      `json:"project" yaml:"project"`
	Name      string      `json:"name" yaml:"name"`
	Timestamp time.Time   `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Creator   Contributor `json:"creator,omitempty" yaml:"creator,omitempty"`
	_         struct{}
}

// Validate the repository descriptor fields
func (r RepoDescriptor) Validate() error {
	if r.Project == "" {
		return fmt.Errorf("empty field: repo project is empty")
	}
	if r.Name == "" {
		return fmt.Errorf("empty field: repo name is empty")
	}
	if err := validateName("project", r.Project); err != nil {
		return err
	}
	return validateName("repo", r.Name)
}

func validateName(kind, name string) error {
	for i, c := range name {
		if !unicode.IsDigit(c) && !unicode.IsLetter(c) && !unicode.Is(unicode.Hyphen, c) && c != '_' && c != '.' {
			return fmt.Errorf("invalid name: %s name:%s contains unsupported character \"%s\"",
				kind,
				name,
				string([]rune(name)[i]))
		}
	}
	if name[0] == '.' {
		return fmt.Errorf("invalid name: %s name:%s may not start with a dot", kind, name)
	}
	return nil
}
