package buffers

import (
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestBuildMatchQuery(t *testing.T) {
	testCases := []struct {
		raw      string
		expected string
	}{
		{raw: "", expected: ""},
		{raw: "   \t", expected: ""},
		{raw: "foo", expected: `"foo"*`},
		{raw: "  foo   bar ", expected: `"foo"* "bar"*`},
		{raw: `say "hi"`, expected: `"say"* """hi"""*`},
		{raw: "NOT OR", expected: `"NOT"* "OR"*`},
	}

	for _, testCase := range testCases {
		if got := buildMatchQuery(testCase.raw); got != testCase.expected {
			t.Fatalf("buildMatchQuery(%q) = %q, want %q", testCase.raw, got, testCase.expected)
		}
	}
}

func TestBuildMatchQueryQuotesEveryTerm(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.String().Draw(t, "raw")
		match := buildMatchQuery(raw)

		fields := strings.Fields(raw)
		if len(fields) == 0 {
			if match != "" {
				t.Fatalf("blank input produced %q", match)
			}
			return
		}
		terms := strings.Split(match, " ")
		if len(terms) != len(fields) {
			t.Fatalf("expected %d terms, got %d in %q", len(fields), len(terms), match)
		}
		for _, term := range terms {
			if !strings.HasPrefix(term, `"`) || !strings.HasSuffix(term, `"*`) {
				t.Fatalf("term %q is not a quoted prefix", term)
			}
			inner := term[1 : len(term)-2]
			if strings.Count(inner, `"`)%2 != 0 {
				t.Fatalf("term %q has an unescaped quote", term)
			}
		}
	})
}

func TestIsInvalidMatch(t *testing.T) {
	if isInvalidMatch(nil) {
		t.Fatalf("nil error is not an invalid match")
	}
	if !isInvalidMatch(errors.New("SQL logic error: fts5: syntax error near \"\"")) {
		t.Fatalf("expected fts5 syntax error to be recognised")
	}
	if !isInvalidMatch(errors.New("unterminated string")) {
		t.Fatalf("expected unterminated string to be recognised")
	}
	if isInvalidMatch(errors.New("database is locked")) {
		t.Fatalf("storage errors must propagate")
	}
}
