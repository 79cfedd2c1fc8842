package buffers

import "strings"

// buildMatchQuery turns free text into an FTS5 expression: quotes are doubled,
// every whitespace-separated term becomes a quoted prefix match, and the terms
// are ANDed implicitly.
func buildMatchQuery(raw string) string {
	terms := strings.Fields(strings.ReplaceAll(raw, `"`, `""`))
	for index, term := range terms {
		terms[index] = `"` + term + `"*`
	}
	return strings.Join(terms, " ")
}

// isInvalidMatch reports whether err came from FTS5 rejecting the expression
// rather than from storage.
func isInvalidMatch(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "fts5:") ||
		strings.Contains(message, "malformed match") ||
		strings.Contains(message, "unterminated string")
}
