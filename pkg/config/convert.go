package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/treelinehq/treeline/pkg/config/status"
)

// prefixPattern is the shape of a resolvable value prefix. Values whose
// leading segment does not match are passed through untouched, so ordinary
// strings containing colons (URLs, addresses) never trip resolution.
var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValueResolver rewrites the part of a configuration value after the
// prefix, e.g. resolve("ZONE") for the value "env:ZONE".
type ValueResolver func(rest string) (string, error)

// Resolvers rewrites configuration values of the form <prefix>:<rest>.
//
// A registry is constructed at startup and injected wherever values are
// loaded; there is no process-wide registry. The env prefix is built in.
type Resolvers struct {
	byPrefix map[string]ValueResolver
}

// NewResolvers builds a registry with the env resolver registered.
func NewResolvers() *Resolvers {
	r := &Resolvers{
		byPrefix: make(map[string]ValueResolver),
	}
	r.byPrefix["env"] = envResolver
	return r
}

// RegisterValueResolver adds a resolver for a custom prefix. The prefix
// must be a plain lowercase word and not taken yet.
func (r *Resolvers) RegisterValueResolver(prefix string, resolve ValueResolver) error {
	if !prefixPattern.MatchString(prefix) {
		return status.ErrInvalidPrefix.WrapMessage("prefix %q must match %s", prefix, prefixPattern)
	}
	if resolve == nil {
		return status.ErrInvalidPrefix.WrapMessage("prefix %q needs a resolver function", prefix)
	}
	if _, taken := r.byPrefix[prefix]; taken {
		return status.ErrResolverExists.WrapMessage("prefix %q", prefix)
	}
	r.byPrefix[prefix] = resolve
	return nil
}

// ConvertValue rewrites value when it starts with a registered
// <prefix>: and returns it unchanged otherwise. The property name only
// decorates errors.
func (r *Resolvers) ConvertValue(value, property string) (string, error) {
	prefix, rest, found := strings.Cut(value, ":")
	if !found || !prefixPattern.MatchString(prefix) {
		return value, nil
	}
	resolve, registered := r.byPrefix[prefix]
	if !registered {
		return value, nil
	}
	resolved, err := resolve(rest)
	if err != nil {
		return "", status.ErrUnresolvedValue.WrapMessage("property %s (%s:...): %w", property, prefix, err)
	}
	return resolved, nil
}

func envResolver(name string) (string, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return value, nil
}
