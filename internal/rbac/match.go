package rbac

import (
	"path"
	"strings"
)

// matchPattern matches value against a permission pattern.
// Supported globs:
//   - "docs/*"  — "*" matches exactly one path segment
//   - "docs/**" — trailing "**" matches any suffix (including empty)
//   - "*"       — matches any value entirely (admin-style wildcard)
//
// Multi-segment wildcards in the middle of a pattern are not supported.
func matchPattern(pattern, value string) bool {
	pattern = strings.TrimPrefix(pattern, "/")
	value = strings.TrimPrefix(value, "/")

	if pattern == "*" || pattern == "**" {
		return true
	}

	if strings.HasSuffix(pattern, "**") {
		prefix := strings.TrimSuffix(pattern, "**")
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix == "" {
			return true
		}
		return value == prefix || strings.HasPrefix(value, prefix+"/")
	}

	matched, err := path.Match(pattern, value)
	if err != nil {
		return false
	}
	return matched
}
