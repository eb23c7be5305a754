// Package source holds the built-in data sources: a JSON file, a SQLite
// database and a Google Sheets spreadsheet, all organised as named tabs of
// keyed rows.
package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ciaranashton/relay-agent/internal/schema"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

// Row is one record in a tab. Rows written through the tools hold strings;
// rows already in a store may carry numbers or booleans.
type Row = map[string]any

var (
	querySchema = schema.Object(
		schema.Prop("tab", schema.String().Describe("The tab key to query (e.g., 'expenses', 'budgets')")),
		schema.Optional("filter", schema.Record(schema.String()).
			Describe("Optional key-value filters to match rows (e.g., { category: 'Food' })")),
		schema.Optional("limit", schema.Number().Describe("Maximum number of rows to return")),
	)
	writeSchema = schema.Object(
		schema.Prop("tab", schema.String().Describe("The tab key to write to (e.g., 'expenses')")),
		schema.Prop("row", schema.Record(schema.String()).Describe("Key-value pairs for the row to add")),
	)
)

// tabSet maps the tab key the model uses to the underlying title or table.
type tabSet map[string]string

func (t tabSet) keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t tabSet) resolve(key string) (string, error) {
	title, ok := t[key]
	if !ok || title == "" {
		return "", fmt.Errorf("Unknown tab key: %q. Available: %s", key, strings.Join(t.keys(), ", "))
	}
	return title, nil
}

// describe renders `key ("title"), ...`.
func (t tabSet) describe() string {
	parts := make([]string, 0, len(t))
	for _, k := range t.keys() {
		parts = append(parts, fmt.Sprintf("%s (%q)", k, t[k]))
	}
	return strings.Join(parts, ", ")
}

// queryParams is the decoded query tool input.
type queryParams struct {
	tab    string
	filter map[string]string
	limit  int
}

func parseQuery(args map[string]any) queryParams {
	q := queryParams{
		tab:    tool.ArgsString(args, "tab"),
		filter: tool.ArgsStringMap(args, "filter"),
	}
	if n, ok := tool.ArgsInt(args, "limit"); ok {
		q.limit = n
	}
	return q
}

// apply filters rows by case-insensitive equality, then truncates to limit.
func (q queryParams) apply(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if matches(row, q.filter) {
			out = append(out, row)
		}
	}
	if q.limit > 0 && len(out) > q.limit {
		out = out[:q.limit]
	}
	return out
}

// matches compares the string form of each filtered cell. A missing column
// never matches.
func matches(row Row, filter map[string]string) bool {
	for k, want := range filter {
		v, ok := row[k]
		if !ok || !strings.EqualFold(cellString(v), want) {
			return false
		}
	}
	return true
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// WriteResult is returned by a successful write.
type WriteResult struct {
	Success   bool `json:"success"`
	RowNumber int  `json:"rowNumber"`
	Data      Row  `json:"data"`
}

func validateTabs(kind string, tabs map[string]string) error {
	if len(tabs) == 0 {
		return fmt.Errorf("%s source requires at least one tab", kind)
	}
	for k, v := range tabs {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s source has an empty tab key or title", kind)
		}
	}
	return nil
}

func stringArg(args map[string]any, key string) string {
	return tool.ArgsString(args, key)
}

func rowArg(args map[string]any) Row {
	row := Row{}
	for k, v := range tool.ArgsStringMap(args, "row") {
		row[k] = v
	}
	return row
}
