package artifact

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
)

var (
	answerRegex = regexp.MustCompile(`(?s)<answer>\s*(.*?)\s*</answer>`)
	fenceRegex  = regexp.MustCompile("(?s)```(?:html|HTML)?\\s*\\n(.*?)```")
	tagRegex    = regexp.MustCompile(`(?s)<([a-zA-Z][a-zA-Z0-9]*)[^>]*>.*</([a-zA-Z][a-zA-Z0-9]*)>`)
)

// ExtractHTML pulls an HTML document out of a model response. Rules, in
// order: a response that already starts with a document is taken as-is; a
// fenced code block is unwrapped and checked the same way, falling back to
// the first well-formed tag pair inside it; anything else fails.
func ExtractHTML(response string) (string, bool) {
	// The reasoning wrapper puts the usable output in the answer section.
	if m := answerRegex.FindStringSubmatch(response); m != nil {
		response = m[1]
	}

	trimmed := strings.TrimSpace(response)
	if isDocument(trimmed) {
		return trimmed, true
	}

	if m := fenceRegex.FindStringSubmatch(trimmed); m != nil {
		block := strings.TrimSpace(m[1])
		// A stray language tag on its own line inside the fence
		for _, tag := range []string{"html\n", "HTML\n"} {
			block = strings.TrimPrefix(block, tag)
		}
		block = strings.TrimSpace(block)

		if isDocument(block) {
			return block, true
		}
		if loc := tagPairStart(block); loc >= 0 {
			return strings.TrimSpace(block[loc:]), true
		}
	}

	return "", false
}

func isDocument(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "<!doctype html>") || strings.HasPrefix(lower, "<html")
}

// tagPairStart returns the index of the first well-formed <tag>...</tag>
// pair, -1 if none.
func tagPairStart(s string) int {
	loc := tagRegex.FindStringSubmatchIndex(s)
	if loc == nil {
		return -1
	}
	open := s[loc[2]:loc[3]]
	closing := s[loc[4]:loc[5]]
	if !strings.EqualFold(open, closing) {
		return -1
	}
	return loc[0]
}

// ErrorHTML synthesizes the fallback page written when no HTML could be
// extracted.
func ErrorHTML(query, reason string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Generation Failed</title>
</head>
<body>
<h1>Artifact generation failed</h1>
<p><strong>Query:</strong> %s</p>
<p><strong>Reason:</strong> %s</p>
<p><em>Generated at %s</em></p>
</body>
</html>
`, html.EscapeString(query), html.EscapeString(reason), time.Now().Format(time.RFC3339))
}

// ExtractFollowUpQuery pulls the optimization suggestion out of the
// follow-up response: the answer-tag content when present, otherwise the
// whole response with surrounding backticks and quotes stripped.
func ExtractFollowUpQuery(response string) string {
	if m := answerRegex.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.Trim(strings.TrimSpace(response), "`\"' \n")
}
