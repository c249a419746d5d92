package service

import (
	"regexp"
	"strings"
)

var (
	mathDelimiters = map[byte]string{
		'[': "$$",
		']': "$$",
		'(': "$",
		')': "$",
	}
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// NormalizeMarkup rewrites bracket math delimiters to dollar form and
// collapses runs of three or more newlines to a single blank line.
func NormalizeMarkup(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = rewriteDelimiters(normalized)
	normalized = excessNewlines.ReplaceAllString(normalized, "\n\n")
	return strings.TrimSpace(normalized)
}

// rewriteDelimiters replaces \[ \] \( \) only when the introducing backslash
// is itself unescaped, so a LaTeX line break such as \\[2pt] survives.
func rewriteDelimiters(text string) string {
	var out strings.Builder
	out.Grow(len(text))

	for i := 0; i < len(text); {
		if text[i] != '\\' {
			out.WriteByte(text[i])
			i++
			continue
		}

		run := i
		for run < len(text) && text[run] == '\\' {
			run++
		}
		backslashes := run - i
		if run < len(text) && backslashes%2 == 1 {
			if dollars, ok := mathDelimiters[text[run]]; ok {
				out.WriteString(text[i : run-1])
				out.WriteString(dollars)
				i = run + 1
				continue
			}
		}
		out.WriteString(text[i:run])
		i = run
	}
	return out.String()
}
