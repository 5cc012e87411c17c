package sqltables

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokQuotedIdent
	tokDot
	tokStar
	tokSemicolon
	tokOther
)

type token struct {
	kind tokenKind
	text string
}

// lexStatement splits a Postgres statement into the tokens run_sql cares about. String
// literals (plain, escape and dollar-quoted), comments and numbers are skipped; quoted
// identifiers are unquoted.
func lexStatement(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end, err := skipBlockComment(s, i)
			if err != nil {
				return nil, err
			}
			i = end
		case c == '\'':
			end, err := skipString(s, i, false)
			if err != nil {
				return nil, err
			}
			i = end
		case (c == 'e' || c == 'E') && i+1 < len(s) && s[i+1] == '\'':
			end, err := skipString(s, i+1, true)
			if err != nil {
				return nil, err
			}
			i = end
		case c == '"':
			name, end, err := readQuotedIdent(s, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokQuotedIdent, text: name})
			i = end
		case c == '$':
			if tag, ok := dollarTag(s, i); ok {
				end := strings.Index(s[i+len(tag):], tag)
				if end < 0 {
					return nil, fmt.Errorf("unterminated dollar-quoted string")
				}
				i += len(tag) + end + len(tag)
				continue
			}
			i++
			for i < len(s) && isDigit(s[i]) {
				i++
			}
			toks = append(toks, token{kind: tokOther, text: "$"})
		case isIdentStart(c):
			start := i
			for i < len(s) && isIdentPart(s[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: strings.ToLower(s[start:i])})
		case isDigit(c):
			for i < len(s) && (isDigit(s[i]) || s[i] == '.' || s[i] == 'e' || s[i] == 'E') {
				i++
			}
			toks = append(toks, token{kind: tokOther, text: "0"})
		case c == '.':
			toks = append(toks, token{kind: tokDot, text: "."})
			i++
		case c == '*':
			toks = append(toks, token{kind: tokStar, text: "*"})
			i++
		case c == ';':
			toks = append(toks, token{kind: tokSemicolon, text: ";"})
			i++
		default:
			toks = append(toks, token{kind: tokOther, text: string(c)})
			i++
		}
	}
	return toks, nil
}

func skipBlockComment(s string, i int) (int, error) {
	depth := 0
	for i < len(s) {
		switch {
		case strings.HasPrefix(s[i:], "/*"):
			depth++
			i += 2
		case strings.HasPrefix(s[i:], "*/"):
			depth--
			i += 2
			if depth == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, fmt.Errorf("unterminated comment")
}

// skipString returns the index after the literal opening at s[i].
func skipString(s string, i int, backslashEscapes bool) (int, error) {
	for i++; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if backslashEscapes {
				i++
			}
		case '\'':
			if i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("unterminated string literal")
}

func readQuotedIdent(s string, i int) (string, int, error) {
	var b strings.Builder
	for i++; i < len(s); i++ {
		if s[i] == '"' {
			if i+1 < len(s) && s[i+1] == '"' {
				b.WriteByte('"')
				i++
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(s[i])
	}
	return "", 0, fmt.Errorf("unterminated quoted identifier")
}

// dollarTag reports the $tag$ opening a dollar-quoted string at s[i].
func dollarTag(s string, i int) (string, bool) {
	j := i + 1
	if j < len(s) && isDigit(s[j]) {
		return "", false
	}
	for j < len(s) && isIdentPart(s[j]) && s[j] != '$' {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[i : j+1], true
	}
	return "", false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '$'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// systemSchemas may not be used as qualifiers in run_sql.
var systemSchemas = map[string]bool{
	"public":             true,
	"information_schema": true,
	"pg_catalog":         true,
	"pg_toast":           true,
}

// checkStatement accepts a single SELECT or WITH statement whose schema-qualified names
// only point at the notebook's own schema.
func checkStatement(s, ownSchema string) error {
	toks, err := lexStatement(s)
	if err != nil {
		return err
	}
	if len(toks) == 0 {
		return fmt.Errorf("statement is empty")
	}
	first := toks[0]
	if first.kind != tokIdent || (first.text != "select" && first.text != "with") {
		return fmt.Errorf("only SELECT or WITH statements are allowed, got %s", strings.ToUpper(first.text))
	}
	for i := 0; i < len(toks); i++ {
		if toks[i].kind == tokSemicolon {
			return fmt.Errorf("only a single statement is allowed")
		}
		if !isName(toks[i]) || (i > 0 && toks[i-1].kind == tokDot) {
			continue
		}
		parts := qualifiedParts(toks, i)
		switch {
		case parts >= 3:
			return fmt.Errorf("%s: only table-qualified names are allowed", toks[i].text)
		case parts == 2 && foreignSchema(toks[i].text, ownSchema):
			return fmt.Errorf("schema %q is outside this notebook", toks[i].text)
		}
	}
	return nil
}

func isName(t token) bool { return t.kind == tokIdent || t.kind == tokQuotedIdent }

// qualifiedParts counts the dotted parts of the name starting at toks[i].
func qualifiedParts(toks []token, i int) int {
	parts := 1
	for i+2 < len(toks) && toks[i+1].kind == tokDot && (isName(toks[i+2]) || toks[i+2].kind == tokStar) {
		parts++
		i += 2
	}
	return parts
}

// foreignSchema reports whether a qualifier names a schema other than the notebook's.
// Table aliases are qualifiers too, so only names shaped like schemas are refused.
func foreignSchema(qualifier, ownSchema string) bool {
	q := strings.ToLower(qualifier)
	if q == strings.ToLower(ownSchema) {
		return false
	}
	return systemSchemas[q] || strings.HasPrefix(q, "nb_") || strings.HasPrefix(q, "pg_")
}
