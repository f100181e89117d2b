package model

import (
	"fmt"
	"strconv"
)

// Revision addresses one commit in a repository's history.
//
// Revisions are 1-based and strictly increasing: the repository HEAD after N
// commits is revision N. Negative values are client-side shorthand resolved
// against HEAD before any lookup: -1 means HEAD, -2 the commit before HEAD,
// and so on. Revision 0 never addresses anything.
type Revision int64

const (
	// InitialRevision is the empty commit every repository starts with
	InitialRevision Revision = 1

	// HeadRevision is the client-side alias for the repository HEAD
	HeadRevision Revision = -1
)

// Relative reports whether the revision must be resolved against HEAD first
func (r Revision) Relative() bool {
	return r < 0
}

// Normalize resolves the revision against the given head. It returns false
// when the resolved revision does not address a commit in [1, head].
func (r Revision) Normalize(head Revision) (Revision, bool) {
	n := r
	if r.Relative() {
		n = head + r + 1
	}
	if n < InitialRevision || n > head {
		return n, false
	}
	return n, true
}

func (r Revision) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// ParseRevision parses a decimal revision, accepting the negative shorthand.
// "head" and "HEAD" are accepted as aliases for -1.
func ParseRevision(s string) (Revision, error) {
	if s == "head" || s == "HEAD" {
		return HeadRevision, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid revision: %q is not an integer", s)
	}
	if v == 0 {
		return 0, fmt.Errorf("invalid revision: 0 does not address any commit")
	}
	return Revision(v), nil
}
