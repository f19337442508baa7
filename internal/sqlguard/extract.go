package sqlguard

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_-]*)[^\\n`]*\\n?(.*?)```")

// Extract locates the SQL statement inside raw model output. It prefers a
// ```sql fence, then any fence holding a query, then the first run of lines
// starting at SELECT or WITH and ending at a line that ends with a semicolon.
func Extract(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &ExtractionError{Detail: "response is empty"}
	}

	fences := fencePattern.FindAllStringSubmatch(raw, -1)
	for _, fence := range fences {
		if strings.EqualFold(fence[1], "sql") {
			if body := strings.TrimSpace(fence[2]); body != "" {
				return body, nil
			}
		}
	}
	// An unclosed ```sql fence still marks where the query starts.
	if idx := strings.Index(strings.ToLower(raw), "```sql"); idx >= 0 && len(fences) == 0 {
		if body := strings.TrimSpace(raw[idx+len("```sql"):]); body != "" {
			return body, nil
		}
	}
	for _, fence := range fences {
		if fence[1] == "" && startsWithQuery(fence[2]) {
			return strings.TrimSpace(fence[2]), nil
		}
	}

	if stmt := scanLines(raw); stmt != "" {
		return stmt, nil
	}
	return "", &ExtractionError{Detail: "response contains no SELECT or WITH statement"}
}

func scanLines(raw string) string {
	var (
		lines   []string
		inQuery bool
	)
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inQuery && startsWithQuery(trimmed) {
			inQuery = true
		}
		if !inQuery {
			continue
		}
		lines = append(lines, strings.TrimRight(line, " \t\r"))
		if strings.HasSuffix(trimmed, ";") {
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func startsWithQuery(text string) bool {
	word := leadingWord(strings.TrimLeft(strings.TrimSpace(text), "("))
	return word == "SELECT" || word == "WITH"
}

func leadingWord(text string) string {
	end := 0
	for end < len(text) && isASCIIWordByte(text[end]) {
		end++
	}
	return strings.ToUpper(text[:end])
}

func isASCIIWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
