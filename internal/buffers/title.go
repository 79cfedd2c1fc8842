package buffers

import "strings"

const (
	maxTitleRunes = 100
	untitledTitle = "Untitled"
)

// TitleAndPreview derives the sidebar title and preview from content. The
// title is the first non-blank line and the preview is the next non-blank line
// after it; both are trimmed and cut to 100 characters.
func TitleAndPreview(content string) (string, string) {
	title := ""
	rest := content
	for rest != "" {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if title == "" {
			title = truncateRunes(trimmed, maxTitleRunes)
			continue
		}
		return title, truncateRunes(trimmed, maxTitleRunes)
	}
	if title == "" {
		return untitledTitle, ""
	}
	return title, ""
}

func truncateRunes(value string, limit int) string {
	count := 0
	for index := range value {
		if count == limit {
			return value[:index]
		}
		count++
	}
	return value
}
