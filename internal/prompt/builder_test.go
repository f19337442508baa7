package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline/statline/internal/nl2sql"
	"github.com/statline/statline/internal/schema"
)

func fixtureDescriptor(t *testing.T) *schema.Descriptor {
	t.Helper()
	d, err := schema.New([]schema.Table{
		{
			Name:        "weekly_stats",
			Description: "Per-week player statistics",
			Keywords:    []string{"week"},
			Columns: []schema.Column{
				{Name: "player_name", Type: "VARCHAR", Description: "Player display name"},
				{Name: "season", Type: "BIGINT"},
				{Name: "week", Type: "BIGINT"},
				{Name: "passing_yards", Type: "DOUBLE"},
			},
		},
		{
			Name:        "plays",
			Description: "Play-by-play data",
			Keywords:    []string{"play", "touchdown"},
			Columns: []schema.Column{
				{Name: "passer_player_name", Type: "VARCHAR"},
				{Name: "pass_touchdown", Type: "DOUBLE", Description: "1 when the play was a passing touchdown"},
				{Name: "season", Type: "BIGINT"},
			},
		},
	})
	require.NoError(t, err)
	return d
}

func fixtureExamples() []schema.Example {
	return []schema.Example{
		{
			Question: "How many passing yards did Patrick Mahomes have last season?",
			SQL:      "SELECT SUM(passing_yards) FROM weekly_stats WHERE player_name LIKE '%Mahomes%' AND season = 2023",
		},
		{
			Question: "Most touchdown passes in 2022",
			SQL:      "SELECT passer_player_name, SUM(pass_touchdown) AS tds FROM plays WHERE season = 2022 GROUP BY passer_player_name ORDER BY tds DESC LIMIT 1",
		},
	}
}

func render(req nl2sql.Request) []byte {
	return []byte(fmt.Sprintf("== model ==\n%s\n== instructions ==\n%s\n== schema ==\n%s\n== question ==\n%s\n",
		req.ModelID, req.Instructions, req.SchemaContext, req.Question))
}

func TestBuildGolden(t *testing.T) {
	req := Builder{}.Build("gpt-oss", "  Which quarterback threw the most touchdowns in 2023?  ", fixtureDescriptor(t), fixtureExamples())

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "touchdown_leaders", render(req))
}

func TestBuildIsDeterministic(t *testing.T) {
	d := fixtureDescriptor(t)
	first := Builder{}.Build("gemini", "weekly passing yards", d, fixtureExamples())
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Builder{}.Build("gemini", "weekly passing yards", d, fixtureExamples()))
	}
}

func TestBuildRanksTablesByRelevance(t *testing.T) {
	d := fixtureDescriptor(t)

	req := Builder{}.Build("gpt-oss", "weekly passing yards for Mahomes", d, nil)
	assert.Less(t, strings.Index(req.SchemaContext, "Table weekly_stats"), strings.Index(req.SchemaContext, "Table plays"))

	req = Builder{}.Build("gpt-oss", "touchdown plays", d, nil)
	assert.Less(t, strings.Index(req.SchemaContext, "Table plays"), strings.Index(req.SchemaContext, "Table weekly_stats"))

	// No overlap keeps catalog order.
	req = Builder{}.Build("gpt-oss", "hello", d, nil)
	assert.Less(t, strings.Index(req.SchemaContext, "Table weekly_stats"), strings.Index(req.SchemaContext, "Table plays"))
	assert.NotContains(t, req.SchemaContext, "Examples:")
}

func TestBuildTruncatesToBudget(t *testing.T) {
	d := fixtureDescriptor(t)
	header := "Table plays: Play-by-play data\n"
	firstColumn := "  - passer_player_name VARCHAR\n"

	req := Builder{MaxSchemaChars: len(header) + len(firstColumn)}.Build("gpt-oss", "touchdown plays", d, nil)

	assert.Contains(t, req.SchemaContext, header+firstColumn+"  - ... (2 more columns)\n")
	assert.Contains(t, req.SchemaContext, "Other tables: weekly_stats")
	assert.NotContains(t, req.SchemaContext, "Table weekly_stats")
}

func TestBuildLimitsExamples(t *testing.T) {
	examples := make([]schema.Example, 0, 5)
	for i := 0; i < 5; i++ {
		examples = append(examples, schema.Example{Question: fmt.Sprintf("question %d", i), SQL: "SELECT 1"})
	}
	req := Builder{MaxExamples: 2}.Build("gpt-oss", "question", fixtureDescriptor(t), examples)
	assert.Equal(t, 2, strings.Count(req.SchemaContext, "Q: "))
}

func TestBuildNamesDialect(t *testing.T) {
	req := Builder{Dialect: schema.DialectSQLite}.Build("gpt-oss", "plays", fixtureDescriptor(t), nil)
	assert.Contains(t, req.Instructions, "single SQLite SQL query")
	assert.Contains(t, req.Instructions, "'%Mahomes%'")
}

func TestTermSetNormalizes(t *testing.T) {
	terms := termSet("Ｔｏｕｃｈｄｏｗｎｓ by the QB in ２０２３")
	_, hasTouchdown := terms["touchdown"]
	_, has2023 := terms["2023"]
	_, hasStop := terms["the"]
	assert.True(t, hasTouchdown)
	assert.True(t, has2023)
	assert.False(t, hasStop)
}
