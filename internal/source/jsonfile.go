package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ciaranashton/relay-agent/internal/schema"
)

type JSONFileOptions struct {
	Name     string            `json:"name"`
	FilePath string            `json:"filePath"`
	Tabs     map[string]string `json:"tabs"`
}

// JSONFile stores each tab as an array of rows in a single JSON document
// keyed by tab title. The mutex serialises read-modify-write within this
// process only.
type JSONFile struct {
	name string
	path string
	tabs tabSet
	mu   sync.Mutex
}

func NewJSONFile(opts JSONFileOptions) (*JSONFile, error) {
	if strings.TrimSpace(opts.FilePath) == "" {
		return nil, errors.New("json-file source requires filePath")
	}
	if err := validateTabs("json-file", opts.Tabs); err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = "json_file"
	}
	return &JSONFile{name: name, path: opts.FilePath, tabs: tabSet(opts.Tabs)}, nil
}

func (s *JSONFile) Name() string { return s.name }

func (s *JSONFile) Description() string {
	return "JSON file data store with tabs: " + s.tabs.describe()
}

func (s *JSONFile) QueryDescription() string {
	return "Query rows from the JSON file. Available tabs: " + strings.Join(s.tabs.keys(), ", ")
}

func (s *JSONFile) WriteDescription() string {
	return "Add a new row to the JSON file. Available tabs: " + strings.Join(s.tabs.keys(), ", ")
}

func (s *JSONFile) QuerySchema() *schema.Schema { return querySchema }
func (s *JSONFile) WriteSchema() *schema.Schema { return writeSchema }

func (s *JSONFile) Query(ctx context.Context, args map[string]any) (any, error) {
	q := parseQuery(args)
	title, err := s.tabs.resolve(q.tab)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return q.apply(data[title]), nil
}

func (s *JSONFile) Write(ctx context.Context, args map[string]any) (any, error) {
	title, err := s.tabs.resolve(stringArg(args, "tab"))
	if err != nil {
		return nil, err
	}
	row := rowArg(args)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}
	data[title] = append(data[title], row)
	if err := s.write(data); err != nil {
		return nil, err
	}
	return WriteResult{Success: true, RowNumber: len(data[title]), Data: row}, nil
}

// read loads the file, creating it with an empty array per tab when missing.
func (s *JSONFile) read() (map[string][]Row, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		initial := make(map[string][]Row, len(s.tabs))
		for _, title := range s.tabs {
			initial[title] = []Row{}
		}
		if err := s.write(initial); err != nil {
			return nil, err
		}
		return initial, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var data map[string][]Row
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if data == nil {
		data = make(map[string][]Row)
	}
	return data, nil
}

func (s *JSONFile) write(data map[string][]Row) error {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return os.Rename(tmp, s.path)
}
