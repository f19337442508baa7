package sqlguard

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuotedIdent
	tokenString
	tokenNumber
	tokenSemicolon
	tokenSymbol
)

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

// lex splits sql into tokens and returns the text with every comment
// replaced by a single space. Offsets refer to the returned text.
func lex(sql string) ([]token, string, error) {
	var (
		clean  strings.Builder
		tokens []token
	)
	emit := func(kind tokenKind, text string) {
		start := clean.Len()
		clean.WriteString(text)
		tokens = append(tokens, token{kind: kind, text: text, start: start, end: clean.Len()})
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			clean.WriteRune(r)
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			clean.WriteByte(' ')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := indexFrom(runes, i+2, "*/")
			if end < 0 {
				return nil, "", unsafe("unterminated comment")
			}
			i = end + 2
			clean.WriteByte(' ')
		case r == '\'':
			end, ok := scanQuoted(runes, i, '\'')
			if !ok {
				return nil, "", unsafe("unterminated string literal")
			}
			emit(tokenString, string(runes[i:end]))
			i = end
		case r == '"':
			end, ok := scanQuoted(runes, i, '"')
			if !ok {
				return nil, "", unsafe("unterminated quoted identifier")
			}
			emit(tokenQuotedIdent, string(runes[i:end]))
			i = end
		case r == ';':
			emit(tokenSemicolon, ";")
			i++
		case isWordStart(r):
			j := i + 1
			for j < len(runes) && isWordPart(runes[j]) {
				j++
			}
			// E'...' allows backslash escapes, which this lexer does not follow.
			if j < len(runes) && runes[j] == '\'' && j-i == 1 && (r == 'e' || r == 'E') {
				return nil, "", unsafe("escape string literals are not allowed")
			}
			emit(tokenWord, string(runes[i:j]))
			i = j
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == 'e' || runes[j] == 'E') {
				j++
			}
			emit(tokenNumber, string(runes[i:j]))
			i = j
		default:
			emit(tokenSymbol, string(r))
			i++
		}
	}
	return tokens, clean.String(), nil
}

// scanQuoted returns the index just past the closing quote. A doubled quote
// is an escaped quote.
func scanQuoted(runes []rune, start int, quote rune) (int, bool) {
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i + 1, true
	}
	return 0, false
}

func indexFrom(runes []rune, from int, needle string) int {
	idx := strings.Index(string(runes[from:]), needle)
	if idx < 0 {
		return -1
	}
	return from + len([]rune(string(runes[from:])[:idx]))
}

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
