package docs

import "strings"

// APIVersion derives the coarse API version from a specification version
// string: the major component, prefixed with "v". "2.4.1" and "v2.0"
// both map to "v2"; an empty or unparsable input maps to "unversioned".
func APIVersion(specVersion string) string {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(specVersion), "v"))
	if s == "" {
		return "unversioned"
	}
	major := s
	if i := strings.IndexAny(s, ".-+"); i >= 0 {
		major = s[:i]
	}
	for _, r := range major {
		if r < '0' || r > '9' {
			return "unversioned"
		}
	}
	if major == "" {
		return "unversioned"
	}
	return "v" + major
}
