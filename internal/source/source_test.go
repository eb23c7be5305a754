package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

var (
	_ domain.Source = (*JSONFile)(nil)
	_ domain.Writer = (*JSONFile)(nil)
	_ domain.Source = (*SQLite)(nil)
	_ domain.Writer = (*SQLite)(nil)
	_ domain.Source = (*GoogleSheets)(nil)
	_ domain.Writer = (*GoogleSheets)(nil)
)

type rowStore interface {
	domain.Source
	domain.Writer
}

func testSources(t *testing.T) map[string]rowStore {
	t.Helper()
	dir := t.TempDir()
	tabs := map[string]string{"expenses": "Expenses", "budgets": "Budgets"}

	jf, err := NewJSONFile(JSONFileOptions{FilePath: filepath.Join(dir, "data.json"), Tabs: tabs})
	if err != nil {
		t.Fatal(err)
	}
	sq, err := NewSQLite(SQLiteOptions{DBPath: filepath.Join(dir, "data.db"), Tabs: tabs})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]rowStore{"json-file": jf, "sqlite": sq}
}

func write(t *testing.T, s rowStore, tab string, row map[string]any) WriteResult {
	t.Helper()
	res, err := s.Write(context.Background(), map[string]any{"tab": tab, "row": row})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	return res.(WriteResult)
}

func query(t *testing.T, s rowStore, args map[string]any) []Row {
	t.Helper()
	res, err := s.Query(context.Background(), args)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	return res.([]Row)
}

func TestWriteThenQuery(t *testing.T) {
	for name, s := range testSources(t) {
		t.Run(name, func(t *testing.T) {
			if got := write(t, s, "expenses", map[string]any{"item": "Coffee", "category": "Food"}); got.RowNumber != 1 || !got.Success {
				t.Fatalf("first write = %+v", got)
			}
			if got := write(t, s, "expenses", map[string]any{"item": "Train", "category": "Travel"}); got.RowNumber != 2 {
				t.Fatalf("second rowNumber = %d", got.RowNumber)
			}
			write(t, s, "expenses", map[string]any{"item": "Lunch", "category": "food"})

			rows := query(t, s, map[string]any{"tab": "expenses"})
			if len(rows) != 3 || rows[0]["item"] != "Coffee" {
				t.Fatalf("rows = %v", rows)
			}

			food := query(t, s, map[string]any{"tab": "expenses", "filter": map[string]any{"category": "FOOD"}})
			if len(food) != 2 {
				t.Fatalf("case-insensitive filter returned %d rows", len(food))
			}

			limited := query(t, s, map[string]any{"tab": "expenses", "limit": float64(1)})
			if len(limited) != 1 {
				t.Fatalf("limit returned %d rows", len(limited))
			}

			if empty := query(t, s, map[string]any{"tab": "budgets"}); len(empty) != 0 {
				t.Fatalf("budgets should be empty, got %v", empty)
			}
		})
	}
}

func TestUnknownTab(t *testing.T) {
	for name, s := range testSources(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Query(context.Background(), map[string]any{"tab": "nope"})
			if err == nil || !strings.Contains(err.Error(), `Unknown tab key: "nope". Available: budgets, expenses`) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSchemasValidateArgs(t *testing.T) {
	for name, s := range testSources(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.QuerySchema().Validate(map[string]any{"tab": "expenses", "limit": "two"}); err == nil {
				t.Fatal("string limit should fail validation")
			}
			if err := s.WriteSchema().Validate(map[string]any{"tab": "expenses"}); err == nil {
				t.Fatal("missing row should fail validation")
			}
			if err := s.WriteSchema().Validate(map[string]any{"tab": "expenses", "row": map[string]any{"a": "b"}}); err != nil {
				t.Fatalf("valid write args rejected: %v", err)
			}
		})
	}
}

func TestJSONFile_InitialisesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "data.json")
	s, err := NewJSONFile(JSONFileOptions{FilePath: path, Tabs: map[string]string{"expenses": "Expenses"}})
	if err != nil {
		t.Fatal(err)
	}
	if rows := query(t, s, map[string]any{"tab": "expenses"}); len(rows) != 0 {
		t.Fatalf("rows = %v", rows)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	var data map[string][]Row
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatal(err)
	}
	if rows, ok := data["Expenses"]; !ok || len(rows) != 0 {
		t.Fatalf("file contents = %s", raw)
	}
}

func TestJSONFile_NonStringCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	existing := `{"Expenses":[{"item":"Coffee","amount":3.5,"paid":true},{"item":"Rent","amount":1200,"paid":false}]}`
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewJSONFile(JSONFileOptions{FilePath: path, Tabs: map[string]string{"expenses": "Expenses"}})
	if err != nil {
		t.Fatal(err)
	}

	if rows := query(t, s, map[string]any{"tab": "expenses"}); len(rows) != 2 || rows[1]["amount"] != float64(1200) {
		t.Fatalf("rows = %v", rows)
	}
	rows := query(t, s, map[string]any{"tab": "expenses", "filter": map[string]any{"amount": "1200", "paid": "FALSE"}})
	if len(rows) != 1 || rows[0]["item"] != "Rent" {
		t.Fatalf("filter on numeric and boolean cells = %v", rows)
	}
	if rows := query(t, s, map[string]any{"tab": "expenses", "filter": map[string]any{"vendor": ""}}); len(rows) != 0 {
		t.Fatalf("missing column should not match: %v", rows)
	}

	if got := write(t, s, "expenses", map[string]any{"item": "Tea"}); got.RowNumber != 3 {
		t.Fatalf("rowNumber = %d", got.RowNumber)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `"amount": 1200`) {
		t.Fatalf("numeric cell rewritten: %s", raw)
	}
}

func TestJSONFile_Descriptions(t *testing.T) {
	s, _ := NewJSONFile(JSONFileOptions{FilePath: "x.json", Tabs: map[string]string{"expenses": "Expenses", "budgets": "Budgets"}})
	if s.Name() != "json_file" {
		t.Errorf("Name() = %q", s.Name())
	}
	if got := s.Description(); got != `JSON file data store with tabs: budgets ("Budgets"), expenses ("Expenses")` {
		t.Errorf("Description() = %q", got)
	}
	if got := s.QueryDescription(); got != "Query rows from the JSON file. Available tabs: budgets, expenses" {
		t.Errorf("QueryDescription() = %q", got)
	}
}

func TestNewSources_InvalidOptions(t *testing.T) {
	if _, err := NewJSONFile(JSONFileOptions{Tabs: map[string]string{"a": "A"}}); err == nil {
		t.Error("missing filePath should fail")
	}
	if _, err := NewJSONFile(JSONFileOptions{FilePath: "x.json"}); err == nil {
		t.Error("missing tabs should fail")
	}
	if _, err := NewSQLite(SQLiteOptions{DBPath: filepath.Join(t.TempDir(), "x.db"), Tabs: map[string]string{"a": "drop table;"}}); err == nil {
		t.Error("invalid table name should fail")
	}
}
