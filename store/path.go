package store

import (
	"strings"
)

// Virtual paths are slash separated and relative to the root of a single
// (origin, storage type) sandbox. The empty path addresses the root itself,
// which always exists. Parent traversal is rejected outright rather than
// resolved; a virtual path can never escape its sandbox.

// splitVirtualPath normalizes a virtual path and returns its components. The
// empty path and "/" both yield a nil slice, addressing the root. Any "." or
// ".." component, and any empty component produced by doubled slashes, makes
// the path invalid.
func splitVirtualPath(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, nil
	}
	parts := strings.Split(p, "/")
	for _, c := range parts {
		if c == "" || c == "." || c == ".." {
			return nil, newStoreError(ErrCodeInvalidOperation, nil, p)
		}
	}
	return parts, nil
}

// splitVirtualParent returns the components of the parent directory and the
// final component of the path. The root has no parent, so the empty path is
// invalid here.
func splitVirtualParent(p string) ([]string, string, error) {
	parts, err := splitVirtualPath(p)
	if err != nil {
		return nil, "", err
	}
	if len(parts) == 0 {
		return nil, "", newStoreError(ErrCodeInvalidOperation, nil, p)
	}
	return parts[:len(parts)-1], parts[len(parts)-1], nil
}

// isDescendantPath reports whether p addresses an entry at or below ancestor.
// Both paths must already be valid virtual paths.
func isDescendantPath(ancestor, p string) bool {
	a := strings.Trim(ancestor, "/")
	c := strings.Trim(p, "/")
	if a == "" {
		return true
	}
	return c == a || strings.HasPrefix(c, a+"/")
}
