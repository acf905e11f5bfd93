package extract

import "strings"

// cleanJSDoc strips the comment markers from a /** ... */ block while
// preserving the description text and @tags.
func cleanJSDoc(text string) string {
	text = strings.TrimPrefix(text, "/**")
	text = strings.TrimSuffix(text, "*/")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		lines = append(lines, line)
	}

	cleaned := strings.TrimSpace(strings.Join(lines, "\n"))
	return cleaned
}
