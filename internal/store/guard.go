package store

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrRejected is returned by Guard for statements that are not a single
// read-only query.
var ErrRejected = errors.New("statement rejected")

var writeKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "merge": true, "upsert": true,
	"drop": true, "alter": true, "create": true, "truncate": true, "rename": true,
	"grant": true, "revoke": true, "attach": true, "detach": true, "pragma": true,
	"vacuum": true, "reindex": true, "analyze": true, "copy": true, "call": true,
	"execute": true, "do": true, "set": true, "reset": true, "lock": true,
	"into": true, "listen": true, "notify": true, "begin": true, "commit": true,
	"rollback": true, "savepoint": true, "release": true,
}

// Guard checks that sql is a single SELECT or WITH statement containing no
// write or session keywords outside literals and comments. It returns the
// statement with any trailing semicolons removed.
func Guard(sql string) (string, error) {
	stripped, err := stripLiterals(sql)
	if err != nil {
		return "", err
	}

	body := strings.TrimSpace(stripped)
	body = strings.TrimRight(body, "; \t\r\n")
	if body == "" {
		return "", fmt.Errorf("%w: empty statement", ErrRejected)
	}
	if strings.Contains(body, ";") {
		return "", fmt.Errorf("%w: multiple statements", ErrRejected)
	}

	words := strings.FieldsFunc(strings.ToLower(body), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	if len(words) == 0 || (words[0] != "select" && words[0] != "with") {
		return "", fmt.Errorf("%w: only SELECT or WITH statements are allowed", ErrRejected)
	}
	for _, w := range words {
		if writeKeywords[w] {
			return "", fmt.Errorf("%w: keyword %s is not allowed", ErrRejected, strings.ToUpper(w))
		}
	}

	clean := strings.TrimSpace(sql)
	for strings.HasSuffix(clean, ";") {
		clean = strings.TrimSpace(strings.TrimSuffix(clean, ";"))
	}
	return clean, nil
}

// stripLiterals blanks out quoted strings, quoted identifiers and comments
// so keyword checks only see SQL structure.
func stripLiterals(sql string) (string, error) {
	var b strings.Builder
	b.Grow(len(sql))
	rs := []rune(sql)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '\'' || c == '"':
			end := closingQuote(rs, i, c)
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated quote", ErrRejected)
			}
			b.WriteString(" '' ")
			i = end
		case c == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			b.WriteRune(' ')
		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			end := strings.Index(string(rs[i+2:]), "*/")
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated comment", ErrRejected)
			}
			i += 2 + len([]rune(string(rs[i+2:])[:end])) + 1
			b.WriteRune(' ')
		default:
			b.WriteRune(c)
		}
	}
	return b.String(), nil
}

// closingQuote returns the index of the quote closing the one at start.
// Doubled quotes are escapes.
func closingQuote(rs []rune, start int, q rune) int {
	for j := start + 1; j < len(rs); j++ {
		if rs[j] != q {
			continue
		}
		if j+1 < len(rs) && rs[j+1] == q {
			j++
			continue
		}
		return j
	}
	return -1
}
