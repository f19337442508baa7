package prompt

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "at": {}, "by": {}, "did": {}, "do": {},
	"doe": {}, "for": {}, "from": {}, "give": {}, "has": {}, "have": {}, "how": {},
	"in": {}, "is": {}, "list": {}, "many": {}, "me": {}, "most": {}, "much": {},
	"of": {}, "on": {}, "or": {}, "per": {}, "show": {}, "the": {}, "to": {},
	"top": {}, "was": {}, "were": {}, "what": {}, "which": {}, "who": {}, "with": {},
}

// normalize applies NFKC and case folding so that full-width digits and
// ligatures compare equal to their plain forms.
func normalize(value string) string {
	return cases.Fold().String(norm.NFKC.String(value))
}

// termSet splits value on anything that is not a letter or digit, strips a
// trailing plural s and drops stop words.
func termSet(value string) map[string]struct{} {
	fields := strings.FieldsFunc(normalize(value), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		term := stem(field)
		if _, stop := stopWords[term]; stop {
			continue
		}
		out[term] = struct{}{}
	}
	return out
}

func stem(term string) string {
	if len(term) > 3 && strings.HasSuffix(term, "s") && !strings.HasSuffix(term, "ss") {
		return term[:len(term)-1]
	}
	return term
}

func overlap(terms, other map[string]struct{}) int {
	n := 0
	for term := range other {
		if _, ok := terms[term]; ok {
			n++
		}
	}
	return n
}
