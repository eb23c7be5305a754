package source

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ciaranashton/relay-agent/internal/schema"
	"github.com/ciaranashton/relay-agent/internal/store"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type SQLiteOptions struct {
	Name   string            `json:"name"`
	DBPath string            `json:"dbPath"`
	Tabs   map[string]string `json:"tabs"`
}

// SQLite keeps one table per tab, each row stored as a JSON object in the
// data column.
type SQLite struct {
	name string
	path string
	tabs tabSet
	db   *sql.DB
}

func NewSQLite(opts SQLiteOptions) (*SQLite, error) {
	if strings.TrimSpace(opts.DBPath) == "" {
		return nil, errors.New("sqlite source requires dbPath")
	}
	if err := validateTabs("sqlite", opts.Tabs); err != nil {
		return nil, err
	}
	for key, table := range opts.Tabs {
		if !tableNamePattern.MatchString(table) {
			return nil, fmt.Errorf("sqlite source tab %q: invalid table name %q", key, table)
		}
	}

	db, err := store.Open(opts.DBPath)
	if err != nil {
		return nil, err
	}
	for _, table := range opts.Tabs {
		if _, err := db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				data        TEXT NOT NULL,
				created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
			)`, table)); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table %s: %w", table, err)
		}
	}

	name := opts.Name
	if name == "" {
		name = "sqlite"
	}
	return &SQLite{name: name, path: opts.DBPath, tabs: tabSet(opts.Tabs), db: db}, nil
}

func (s *SQLite) Name() string { return s.name }

func (s *SQLite) Description() string {
	return "SQLite database with tabs: " + s.tabs.describe()
}

func (s *SQLite) QueryDescription() string {
	return "Query rows from the SQLite database. Available tabs: " + strings.Join(s.tabs.keys(), ", ")
}

func (s *SQLite) WriteDescription() string {
	return "Add a new row to the SQLite database. Available tabs: " + strings.Join(s.tabs.keys(), ", ")
}

func (s *SQLite) QuerySchema() *schema.Schema { return querySchema }
func (s *SQLite) WriteSchema() *schema.Schema { return writeSchema }

func (s *SQLite) Query(ctx context.Context, args map[string]any) (any, error) {
	q := parseQuery(args)
	table, err := s.tabs.resolve(q.tab)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT data FROM %s ORDER BY id`, table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var all []Row
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var row Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("decode row in %s: %w", table, err)
		}
		all = append(all, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return q.apply(all), nil
}

func (s *SQLite) Write(ctx context.Context, args map[string]any) (any, error) {
	table, err := s.tabs.resolve(stringArg(args, "tab"))
	if err != nil {
		return nil, err
	}
	row := rowArg(args)
	data, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (data) VALUES (?)`, table), string(data)); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
		return nil, fmt.Errorf("count %s: %w", table, err)
	}
	return WriteResult{Success: true, RowNumber: count, Data: row}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
