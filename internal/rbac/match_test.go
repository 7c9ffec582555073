package rbac

import "testing"

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		value   string
		want    bool
	}{
		// exact
		{"docs/readme", "docs/readme", true},
		{"docs/readme", "docs/other", false},
		{"read", "read", true},
		{"read", "write", false},

		// universal wildcards
		{"*", "anything", true},
		{"*", "a/b/c", true},
		{"**", "a/b/c", true},
		{"**", "", true},

		// single-segment wildcard
		{"docs/*", "docs/readme", true},
		{"docs/*", "docs/a/b", false},
		{"docs/*", "docs", false},
		{"*/readme", "docs/readme", true},

		// trailing multi-segment wildcard
		{"docs/**", "docs", true},
		{"docs/**", "docs/readme", true},
		{"docs/**", "docs/a/b/c", true},
		{"docs/**", "documents", false},
		{"docs/**", "other/docs", false},

		// leading slash tolerated on either side
		{"/docs/*", "docs/readme", true},
		{"docs/*", "/docs/readme", true},

		// action-style single words
		{"read*", "read", true},
		{"read*", "readonly", true},
		{"read*", "write", false},
	}
	for _, tc := range cases {
		if got := matchPattern(tc.pattern, tc.value); got != tc.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", tc.pattern, tc.value, got, tc.want)
		}
	}
}
