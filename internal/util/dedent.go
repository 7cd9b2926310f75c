package util

import "strings"

// Dedent removes the indentation shared by all non-blank lines and drops
// leading and trailing blank lines. The result has no trailing newline.
func Dedent(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	common := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if common == -1 || indent < common {
			common = indent
		}
	}
	for i, line := range lines {
		if len(line) >= common && common > 0 {
			lines[i] = line[common:]
		} else {
			lines[i] = strings.TrimLeft(line, " \t")
		}
	}
	return strings.Join(lines, "\n")
}

// SplitScriptLines dedents a script block and returns its non-empty lines.
// Lines ending in a backslash are joined with the following line.
func SplitScriptLines(s string) []string {
	var out []string
	var pending strings.Builder
	for _, line := range strings.Split(Dedent(s), "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if pending.Len() > 0 {
			trimmed = strings.TrimLeft(trimmed, " \t")
		}
		if strings.HasSuffix(trimmed, "\\") {
			pending.WriteString(strings.TrimSuffix(trimmed, "\\"))
			continue
		}
		pending.WriteString(trimmed)
		if joined := strings.TrimSpace(pending.String()); joined != "" {
			out = append(out, joined)
		}
		pending.Reset()
	}
	if rest := strings.TrimSpace(pending.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
