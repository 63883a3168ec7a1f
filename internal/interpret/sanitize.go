package interpret

import (
	"regexp"
	"strings"
	"unicode"
)

// bannedWords maps backend vocabulary to its root. A word is allowed only
// when the question itself used the same root.
var bannedWords = map[string]string{
	"query": "query", "queries": "query", "queried": "query",
	"table": "table", "tables": "table",
	"database": "database", "databases": "database", "db": "database",
	"schema": "schema", "schemas": "schema",
	"sql": "sql",
	"dataset": "dataset", "datasets": "dataset",
	"column": "column", "columns": "column",
	"row": "row", "rows": "row",
	"postgres": "postgres", "postgresql": "postgres", "sqlite": "sqlite",
}

var (
	fillerPattern = regexp.MustCompile(`(?i)^\s*(great question|good question|certainly|absolutely|sure thing|sure|of course|happy to help|i'd be happy to[^.!\n]*|based on (the|my) (data|analysis|results)|looking at the (data|numbers|results)|according to (the|my) (data|results)|let me (check|look)[^.!\n]*)\b\s*[!.,:;-]*\s*`)
	codeBlock     = regexp.MustCompile("(?s)```.*?```")
	inlineCode    = regexp.MustCompile("`[^`]*`")
	wordPattern   = regexp.MustCompile(`[A-Za-z]+`)
	listMarker    = regexp.MustCompile(`^\s*([-*•]|\d+[.)])?\s*$`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// Sanitize removes filler openings, code and any sentence that mentions
// backend mechanics the question did not itself mention.
func Sanitize(answer, question string) string {
	allowed := allowedRoots(question)

	text := codeBlock.ReplaceAllString(answer, "")
	text = inlineCode.ReplaceAllString(text, "")
	for {
		stripped := fillerPattern.ReplaceAllString(text, "")
		if stripped == text {
			break
		}
		text = stripped
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		var kept []string
		for _, s := range splitSentences(line) {
			if leaks(s, allowed) {
				continue
			}
			kept = append(kept, s)
		}
		out := strings.TrimRight(strings.Join(kept, ""), " ")
		if listMarker.MatchString(out) {
			out = ""
		}
		lines = append(lines, out)
	}

	result := strings.TrimSpace(strings.Join(lines, "\n"))
	result = blankLines.ReplaceAllString(result, "\n\n")
	return capitalizeFirst(result)
}

// Leaks reports whether text mentions backend vocabulary absent from the
// question.
func Leaks(text, question string) bool {
	return leaks(text, allowedRoots(question))
}

func leaks(text string, allowed map[string]bool) bool {
	for _, w := range wordPattern.FindAllString(text, -1) {
		if root, ok := bannedWords[strings.ToLower(w)]; ok && !allowed[root] {
			return true
		}
	}
	return false
}

func allowedRoots(question string) map[string]bool {
	allowed := map[string]bool{}
	for _, w := range wordPattern.FindAllString(question, -1) {
		if root, ok := bannedWords[strings.ToLower(w)]; ok {
			allowed[root] = true
		}
	}
	return allowed
}

// splitSentences splits a line after terminal punctuation followed by a
// space, keeping the trailing space with each sentence. A period after a
// bare number ("1.") or inside a number ("6.7") does not end a sentence.
func splitSentences(line string) []string {
	var out []string
	rs := []rune(line)
	start := 0
	for i, r := range rs {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(rs) && !unicode.IsSpace(rs[i+1]) {
			continue
		}
		if r == '.' && bareNumberBefore(rs[start:i]) {
			continue
		}
		end := i + 1
		for end < len(rs) && unicode.IsSpace(rs[end]) {
			end++
		}
		out = append(out, string(rs[start:end]))
		start = end
	}
	if start < len(rs) {
		out = append(out, string(rs[start:]))
	}
	return out
}

func bareNumberBefore(rs []rune) bool {
	s := strings.TrimSpace(string(rs))
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func capitalizeFirst(s string) string {
	for i, r := range s {
		if unicode.IsLetter(r) {
			return s[:i] + string(unicode.ToUpper(r)) + s[i+len(string(r)):]
		}
		if !unicode.IsSpace(r) && r != '*' && r != '_' {
			return s
		}
	}
	return s
}
