package buffers

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestTitleAndPreview(t *testing.T) {
	testCases := []struct {
		name            string
		content         string
		expectedTitle   string
		expectedPreview string
	}{
		{name: "empty", content: "", expectedTitle: "Untitled"},
		{name: "blank lines", content: "\n \n\t", expectedTitle: "Untitled"},
		{name: "title only", content: "  Shopping  ", expectedTitle: "Shopping"},
		{name: "leading blank", content: "\nHello\nWorld\n", expectedTitle: "Hello", expectedPreview: "World"},
		{name: "windows newlines", content: "One\r\n\r\nTwo\r\n", expectedTitle: "One", expectedPreview: "Two"},
		{name: "third line ignored", content: "a\nb\nc", expectedTitle: "a", expectedPreview: "b"},
		{
			name:            "truncated by characters",
			content:         strings.Repeat("é", 150) + "\n" + strings.Repeat("x", 101),
			expectedTitle:   strings.Repeat("é", 100),
			expectedPreview: strings.Repeat("x", 100),
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			title, preview := TitleAndPreview(testCase.content)
			if title != testCase.expectedTitle {
				t.Fatalf("expected title %q, got %q", testCase.expectedTitle, title)
			}
			if preview != testCase.expectedPreview {
				t.Fatalf("expected preview %q, got %q", testCase.expectedPreview, preview)
			}
		})
	}
}

func TestTitleAndPreviewProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		content := rapid.String().Draw(t, "content")
		title, preview := TitleAndPreview(content)

		if title == "" {
			t.Fatalf("title must never be empty")
		}
		if utf8.RuneCountInString(title) > maxTitleRunes || utf8.RuneCountInString(preview) > maxTitleRunes {
			t.Fatalf("title or preview exceeds %d characters", maxTitleRunes)
		}
		if strings.TrimSpace(content) == "" && (title != untitledTitle || preview != "") {
			t.Fatalf("blank content produced (%q, %q)", title, preview)
		}
		if strings.Contains(title, "\n") || strings.Contains(preview, "\n") {
			t.Fatalf("derived lines must not span newlines")
		}
	})
}
