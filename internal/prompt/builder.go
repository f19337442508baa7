// Package prompt composes generation requests from a question and the
// published schema.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/statline/statline/internal/nl2sql"
	"github.com/statline/statline/internal/schema"
)

const (
	DefaultMaxSchemaChars = 12000
	DefaultMaxExamples    = 3
)

const instructionsTemplate = `You translate questions about NFL statistics into a single %s SQL query.
Rules:
- Answer with exactly one read-only SELECT statement. WITH ... SELECT is allowed.
- Use only the tables and columns listed in the schema. Never invent names.
- Do not write comments and do not write more than one statement.
- Put the statement in a ` + "```sql" + ` fenced block without any explanation.
- Double-quote column names that are SQL keywords, for example "desc".
- Add a LIMIT clause when the result could be large.
- Match player names with LIKE, for example player_name LIKE '%%Mahomes%%'.
- Season types are 'REG' for the regular season and 'POST' for the playoffs.`

// Builder is stateless. Build returns the same request for the same inputs.
type Builder struct {
	// MaxSchemaChars bounds the rendered table blocks. Zero means
	// DefaultMaxSchemaChars, negative means unlimited.
	MaxSchemaChars int
	Dialect        schema.Dialect
	MaxExamples    int
}

func (b Builder) Build(modelID, question string, descriptor *schema.Descriptor, examples []schema.Example) nl2sql.Request {
	question = strings.TrimSpace(question)
	terms := termSet(question)

	var sb strings.Builder
	b.writeTables(&sb, rankTables(descriptor.Tables(), terms))
	b.writeExamples(&sb, rankExamples(examples, terms))

	return nl2sql.Request{
		ModelID:       strings.TrimSpace(modelID),
		Question:      question,
		Instructions:  fmt.Sprintf(instructionsTemplate, dialectName(b.Dialect)),
		SchemaContext: strings.TrimRight(sb.String(), "\n"),
	}
}

func (b Builder) budget() int {
	switch {
	case b.MaxSchemaChars == 0:
		return DefaultMaxSchemaChars
	case b.MaxSchemaChars < 0:
		return int(^uint(0) >> 1)
	default:
		return b.MaxSchemaChars
	}
}

func (b Builder) writeTables(sb *strings.Builder, tables []schema.Table) {
	sb.WriteString("Tables:\n")
	remaining := b.budget()
	var skipped []string
	for i, table := range tables {
		block := renderTable(table)
		switch {
		case len(block) <= remaining:
			sb.WriteString(block)
			remaining -= len(block)
		case i == 0:
			sb.WriteString(renderTruncated(table, remaining))
			remaining = 0
		default:
			skipped = append(skipped, table.Name)
		}
	}
	if len(skipped) > 0 {
		sb.WriteString("Other tables: " + strings.Join(skipped, ", ") + "\n")
	}
}

func (b Builder) writeExamples(sb *strings.Builder, examples []schema.Example) {
	limit := b.MaxExamples
	if limit <= 0 {
		limit = DefaultMaxExamples
	}
	if len(examples) > limit {
		examples = examples[:limit]
	}
	if len(examples) == 0 {
		return
	}
	sb.WriteString("\nExamples:\n")
	for _, example := range examples {
		fmt.Fprintf(sb, "Q: %s\nSQL: %s\n", strings.TrimSpace(example.Question), strings.TrimSpace(example.SQL))
	}
}

func renderHeader(table schema.Table) string {
	if table.Description == "" {
		return "Table " + table.Name + "\n"
	}
	return "Table " + table.Name + ": " + table.Description + "\n"
}

func renderColumn(column schema.Column) string {
	line := "  - " + column.Name
	if column.Type != "" {
		line += " " + column.Type
	}
	if column.Description != "" {
		line += ": " + column.Description
	}
	return line + "\n"
}

func renderTable(table schema.Table) string {
	var sb strings.Builder
	sb.WriteString(renderHeader(table))
	for _, column := range table.Columns {
		sb.WriteString(renderColumn(column))
	}
	return sb.String()
}

// renderTruncated renders as many leading columns as fit in budget, then a
// marker with the number of columns left out.
func renderTruncated(table schema.Table, budget int) string {
	var sb strings.Builder
	sb.WriteString(renderHeader(table))
	used := sb.Len()
	shown := 0
	for _, column := range table.Columns {
		line := renderColumn(column)
		if used+len(line) > budget {
			break
		}
		sb.WriteString(line)
		used += len(line)
		shown++
	}
	if rest := len(table.Columns) - shown; rest > 0 {
		fmt.Fprintf(&sb, "  - ... (%d more columns)\n", rest)
	}
	return sb.String()
}

func rankTables(tables []schema.Table, terms map[string]struct{}) []schema.Table {
	scores := make([]int, len(tables))
	for i, table := range tables {
		scores[i] = scoreTable(table, terms)
	}
	order := make([]int, len(tables))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	ranked := make([]schema.Table, len(tables))
	for i, idx := range order {
		ranked[i] = tables[idx]
	}
	return ranked
}

func rankExamples(examples []schema.Example, terms map[string]struct{}) []schema.Example {
	type scored struct {
		example schema.Example
		score   int
	}
	ranked := make([]scored, len(examples))
	for i, example := range examples {
		ranked[i] = scored{example: example, score: overlap(terms, termSet(example.Question))}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })
	out := make([]schema.Example, len(ranked))
	for i, item := range ranked {
		out[i] = item.example
	}
	return out
}

// scoreTable weighs a name hit over a keyword hit over column and
// description hits.
func scoreTable(table schema.Table, terms map[string]struct{}) int {
	score := 3 * overlap(terms, termSet(table.Name))
	score += 2 * overlap(terms, termSet(strings.Join(table.Keywords, " ")))

	columnNames := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		columnNames = append(columnNames, column.Name)
	}
	score += overlap(terms, termSet(strings.Join(columnNames, " ")))
	score += overlap(terms, termSet(table.Description))
	return score
}

func dialectName(dialect schema.Dialect) string {
	if dialect == schema.DialectSQLite {
		return "SQLite"
	}
	return "DuckDB"
}
