// Package sqlguard turns untrusted model output into statements that are
// safe to run against the read-only dataset.
//
// A Statement can only be obtained from Validator.Validate, so holding one
// proves the SQL passed every rule below:
//
//  1. non-empty after comments are stripped
//  2. a single statement; one trailing semicolon is dropped
//  3. leading keyword SELECT or WITH
//  4. no deny-listed keyword outside literals and quoted identifiers
//  5. parses as exactly one SELECT without INTO or locking clauses
//  6. no table functions and no file or catalog functions
//  7. every table and column exists in the published schema
//  8. a LIMIT is added when the top-level query has none, LIMIT ALL or
//     LIMIT NULL
package sqlguard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/statline/statline/internal/schema"
)

const DefaultLimit = 100

type Kind string

const KindSelect Kind = "SELECT"

type Statement struct {
	sql           string
	kind          Kind
	limitInjected bool
}

func (s Statement) SQL() string { return s.sql }

func (s Statement) Kind() Kind { return s.kind }

// LimitInjected reports whether the validator appended the default LIMIT.
func (s Statement) LimitInjected() bool { return s.limitInjected }

// IsZero reports whether s was not produced by Validate.
func (s Statement) IsZero() bool { return s.sql == "" || s.kind != KindSelect }

var deniedKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "ALTER": {}, "CREATE": {},
	"ATTACH": {}, "DETACH": {}, "PRAGMA": {}, "VACUUM": {}, "REPLACE": {},
	"TRUNCATE": {}, "EXEC": {}, "EXECUTE": {}, "COPY": {}, "GRANT": {}, "REVOKE": {},
	"INSTALL": {}, "LOAD": {}, "CALL": {}, "EXPORT": {}, "IMPORT": {},
	"CHECKPOINT": {}, "MERGE": {}, "UPSERT": {}, "REINDEX": {},
}

// Validator is safe for concurrent use; it only reads Schema.
type Validator struct {
	Schema       *schema.Descriptor
	DefaultLimit int
}

func (v Validator) Validate(sql string) (Statement, error) {
	if v.Schema == nil {
		return Statement{}, fmt.Errorf("validator has no schema")
	}

	tokens, clean, err := lex(sql)
	if err != nil {
		return Statement{}, err
	}
	if len(tokens) == 0 {
		return Statement{}, unsafe("statement is empty")
	}

	tokens, err = dropTrailingSemicolon(tokens)
	if err != nil {
		return Statement{}, err
	}
	if len(tokens) == 0 {
		return Statement{}, unsafe("statement is empty")
	}
	body := strings.TrimSpace(clean[tokens[0].start:tokens[len(tokens)-1].end])

	if err := checkLeadingKeyword(tokens); err != nil {
		return Statement{}, err
	}
	for _, tok := range tokens {
		if tok.kind != tokenWord {
			continue
		}
		if _, denied := deniedKeywords[strings.ToUpper(tok.text)]; denied {
			return Statement{}, unsafe("keyword %s is not allowed", strings.ToUpper(tok.text))
		}
	}

	analysis, err := analyze(body, v.Schema)
	if err != nil {
		return Statement{}, err
	}

	stmt := Statement{sql: body, kind: KindSelect}
	if analysis.bounded {
		return stmt, nil
	}
	limit := v.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}
	switch {
	case analysis.nullLimitAt >= 0:
		stmt.sql, err = replaceNullLimit(body, analysis.nullLimitAt, limit)
	case analysis.hasOffset:
		stmt.sql, err = limitBeforeOffset(body, tokens, limit)
	default:
		stmt.sql = fmt.Sprintf("%s LIMIT %d", body, limit)
	}
	if err != nil {
		return Statement{}, err
	}
	stmt.limitInjected = true
	return stmt, nil
}

// replaceNullLimit swaps the ALL or NULL of an unbounded LIMIT for limit.
func replaceNullLimit(body string, at, limit int) (string, error) {
	end := at
	for end < len(body) && isIdentByte(body[end]) {
		end++
	}
	switch strings.ToUpper(body[at:end]) {
	case "ALL", "NULL":
		return body[:at] + strconv.Itoa(limit) + body[end:], nil
	default:
		return "", unsafe("LIMIT must be a number")
	}
}

// limitBeforeOffset places the LIMIT ahead of the top-level OFFSET, the only
// order SQLite accepts.
func limitBeforeOffset(body string, tokens []token, limit int) (string, error) {
	base := tokens[0].start
	depth, at := 0, -1
	for _, tok := range tokens {
		switch {
		case tok.kind == tokenSymbol && tok.text == "(":
			depth++
		case tok.kind == tokenSymbol && tok.text == ")":
			depth--
		case tok.kind == tokenWord && depth == 0 && strings.EqualFold(tok.text, "OFFSET"):
			at = tok.start - base
		}
	}
	if at < 0 {
		return "", unsafe("OFFSET without LIMIT could not be bounded")
	}
	return fmt.Sprintf("%sLIMIT %d %s", body[:at], limit, body[at:]), nil
}

func isIdentByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

func dropTrailingSemicolon(tokens []token) ([]token, error) {
	for i, tok := range tokens {
		if tok.kind != tokenSemicolon {
			continue
		}
		for _, rest := range tokens[i+1:] {
			if rest.kind != tokenSemicolon {
				return nil, &ValidationError{Reason: ReasonMultiStatement, Detail: "only one statement is allowed"}
			}
		}
		return tokens[:i], nil
	}
	return tokens, nil
}

func checkLeadingKeyword(tokens []token) error {
	for _, tok := range tokens {
		if tok.kind == tokenSymbol && tok.text == "(" {
			continue
		}
		word := strings.ToUpper(tok.text)
		if tok.kind == tokenWord && (word == "SELECT" || word == "WITH") {
			return nil
		}
		return unsafe("statement must start with SELECT or WITH, found %q", tok.text)
	}
	return unsafe("statement is empty")
}
