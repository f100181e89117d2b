package model

import (
	"fmt"
	"strings"
)

// NormalizePath validates and normalizes an entry path.
//
// A normalized path starts with "/", uses "/" as the only separator, has no
// empty, "." or ".." segments and no trailing slash. "/" alone is the tree
// root and is not a valid entry path.
func NormalizePath(pth string) (string, error) {
	if pth == "" {
		return "", fmt.Errorf("invalid path: path is empty")
	}
	trimmed := strings.TrimPrefix(pth, "/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return "", fmt.Errorf("invalid path: %q does not address an entry", pth)
	}
	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		switch segment {
		case "":
			return "", fmt.Errorf("invalid path: %q contains an empty segment", pth)
		case ".", "..":
			return "", fmt.Errorf("invalid path: %q contains a relative segment", pth)
		}
		for _, c := range segment {
			if c < 0x20 || c == 0x7f {
				return "", fmt.Errorf("invalid path: %q contains a control character", pth)
			}
		}
	}
	return "/" + strings.Join(segments, "/"), nil
}

// ParentPaths lists all ancestor directories of a normalized path,
// shallowest first, excluding the root.
func ParentPaths(pth string) []string {
	var parents []string
	for i := 1; i < len(pth); i++ {
		if pth[i] == '/' {
			parents = append(parents, pth[:i])
		}
	}
	return parents
}

// IsPathPrefix reports whether dir is pth itself or one of its ancestor
// directories. Both arguments must be normalized paths.
func IsPathPrefix(dir, pth string) bool {
	if dir == pth {
		return true
	}
	return strings.HasPrefix(pth, dir+"/")
}
