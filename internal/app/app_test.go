package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/statline/statline/internal/config"
	"github.com/statline/statline/internal/processor"
)

func createSQLiteDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nfl.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = db.Close() }()
	for _, stmt := range []string{
		`CREATE TABLE plays (player TEXT, yards INTEGER, season INTEGER)`,
		`INSERT INTO plays VALUES ('J.Allen', 12, 2023), ('J.Hurts', 4, 2023), ('P.Mahomes', 31, 2023)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return path
}

func fakeOllama(t *testing.T, response string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"response": response, "done": true})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	env["STATLINE_PROFILE"] = "test"
	cfg, err := config.Load("statline-test", func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func TestNewWiresPipelineEndToEnd(t *testing.T) {
	ollama := fakeOllama(t, "```sql\nSELECT player, yards FROM plays ORDER BY yards DESC\n```")
	cfg := testConfig(t, map[string]string{
		"STATLINE_DATASET_KIND":    "sqlite",
		"STATLINE_DATASET_PATH":    createSQLiteDataset(t),
		"STATLINE_OLLAMA_BASE_URL": ollama.URL,
	})

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.History != nil || a.ObjectStore != nil {
		t.Fatal("optional collaborators should be disabled by default")
	}
	if err := a.Readiness(context.Background()); err != nil {
		t.Fatalf("Readiness() error = %v", err)
	}
	if got := a.Registry.Default(); got != "gpt-oss" {
		t.Fatalf("default provider = %q", got)
	}

	outcome := a.Processor.Process(context.Background(), processor.Request{Question: "who gained the most yards?"})
	if !outcome.Success {
		t.Fatalf("Process() failure = %+v", outcome.Failure)
	}
	if outcome.Result.RowCount != 3 || outcome.Result.Rows[0]["player"] != "P.Mahomes" {
		t.Fatalf("rows = %+v", outcome.Result.Rows)
	}
	if outcome.GeneratedSQL == "" {
		t.Fatal("GeneratedSQL is empty")
	}
}

func TestNewRegistersAllProviders(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"STATLINE_DATASET_KIND": "sqlite",
		"STATLINE_DATASET_PATH": createSQLiteDataset(t),
	})

	a, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = a.Close() }()

	ids := map[string]bool{}
	for _, descriptor := range a.Registry.List() {
		ids[descriptor.ID] = descriptor.Available
	}
	if len(ids) != 3 {
		t.Fatalf("providers = %v", ids)
	}
	if ids["gemini"] || ids["openai"] {
		t.Fatalf("providers without keys reported available: %v", ids)
	}
}

func TestNewFailsForMissingDataset(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"STATLINE_DATASET_KIND": "sqlite",
		"STATLINE_DATASET_PATH": filepath.Join(t.TempDir(), "missing.db"),
	})
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for missing dataset")
	}
}
