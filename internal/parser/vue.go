package parser

import (
	"regexp"
	"strings"
)

// VueTemplate holds the template block of a single-file component.
type VueTemplate struct {
	// Content is the raw template markup.
	Content string
	// StartLine is the 1-based line of the template block in the .vue file.
	StartLine int
	// ScriptSetup reports whether the component uses <script setup>.
	ScriptSetup bool
}

var (
	scriptOpenRe   = regexp.MustCompile(`(?i)<script([^>]*)>`)
	templateOpenRe = regexp.MustCompile(`(?i)<template[^>]*>`)
	componentTagRe = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9-]*)[\s/>]`)
)

// SplitSFC extracts the script block of a Vue single-file component as
// TypeScript source. Everything outside the script block is blanked while
// newlines are preserved, so node positions in the parsed script match line
// numbers in the original .vue file.
func SplitSFC(source []byte) (script []byte, template *VueTemplate, err error) {
	text := string(source)

	scriptStart, scriptEnd, setup := findScriptBlock(text)

	out := make([]byte, len(source))
	for i, b := range source {
		if b == '\n' {
			out[i] = '\n'
		} else if i >= scriptStart && i < scriptEnd {
			out[i] = b
		} else {
			out[i] = ' '
		}
	}

	tmpl := extractTemplate(text)
	if tmpl != nil {
		tmpl.ScriptSetup = setup
	}

	return out, tmpl, nil
}

// findScriptBlock returns the byte range of the script block content and
// whether it is a <script setup> block. Returns (0, 0) when no script block
// exists.
func findScriptBlock(text string) (start, end int, setup bool) {
	loc := scriptOpenRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return 0, 0, false
	}
	attrs := text[loc[2]:loc[3]]
	setup = strings.Contains(attrs, "setup")

	start = loc[1]
	close := strings.Index(strings.ToLower(text[start:]), "</script>")
	if close < 0 {
		return 0, 0, false
	}
	return start, start + close, setup
}

// extractTemplate returns the template block, or nil when absent. Only the
// outermost template block is considered.
func extractTemplate(text string) *VueTemplate {
	loc := templateOpenRe.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	start := loc[1]
	close := strings.LastIndex(strings.ToLower(text), "</template>")
	if close < start {
		return nil
	}
	return &VueTemplate{
		Content:   text[start:close],
		StartLine: strings.Count(text[:start], "\n") + 1,
	}
}

// ComponentUse is a component referenced from a Vue template.
type ComponentUse struct {
	// Name is the component name normalized to PascalCase.
	Name string
	// Line is the 1-based line within the .vue file.
	Line int
}

// Components returns the custom components used in the template. Tags are
// treated as components when they are PascalCase or contain a dash; plain
// lowercase tags are assumed to be native elements.
func (t *VueTemplate) Components() []ComponentUse {
	if t == nil {
		return nil
	}

	var uses []ComponentUse
	seen := make(map[string]bool)

	for _, m := range componentTagRe.FindAllStringSubmatchIndex(t.Content, -1) {
		tag := t.Content[m[2]:m[3]]
		if !isComponentTag(tag) {
			continue
		}
		name := PascalCase(tag)
		if seen[name] {
			continue
		}
		seen[name] = true
		uses = append(uses, ComponentUse{
			Name: name,
			Line: t.StartLine + strings.Count(t.Content[:m[0]], "\n"),
		})
	}

	return uses
}

// isComponentTag reports whether a template tag refers to a component
// rather than a native element.
func isComponentTag(tag string) bool {
	return strings.Contains(tag, "-") || (tag[0] >= 'A' && tag[0] <= 'Z')
}

// PascalCase converts a kebab-case tag to PascalCase; PascalCase input is
// returned unchanged.
func PascalCase(tag string) string {
	if !strings.Contains(tag, "-") {
		return tag
	}
	parts := strings.Split(tag, "-")
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	return sb.String()
}
