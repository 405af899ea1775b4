package executor

import "strings"

// Normalize prepares program output for comparison: surrounding whitespace
// is trimmed the same way batch output is, trailing whitespace is removed
// from every line and trailing blank lines are dropped. Interior blank lines
// are kept.
func Normalize(output string) string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// OutputsMatch compares actual and expected output after normalization.
func OutputsMatch(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}
