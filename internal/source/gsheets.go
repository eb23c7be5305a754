package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ciaranashton/relay-agent/internal/schema"
)

type GoogleSheetsOptions struct {
	Name        string            `json:"name"`
	SheetID     string            `json:"sheetId"`
	Credentials SheetsCredentials `json:"credentials"`
	Tabs        map[string]string `json:"tabs"`
	// Endpoint overrides the API base URL.
	Endpoint string `json:"endpoint,omitempty"`
}

// SheetsCredentials is a service account allowed to edit the spreadsheet.
type SheetsCredentials struct {
	ClientEmail string `json:"clientEmail"`
	PrivateKey  string `json:"privateKey"`
}

// GoogleSheets treats each tab of a spreadsheet as a table whose first row
// holds the column headers.
type GoogleSheets struct {
	name    string
	sheetID string
	tabs    tabSet
	svc     *sheets.Service

	mu     sync.Mutex
	titles map[string]bool // loaded once from the spreadsheet metadata
}

// NewGoogleSheets builds the source. With a nil client, requests are
// authorised as the configured service account. No request is made until
// the first query or write.
func NewGoogleSheets(ctx context.Context, opts GoogleSheetsOptions, client *http.Client) (*GoogleSheets, error) {
	if strings.TrimSpace(opts.SheetID) == "" {
		return nil, errors.New("google-sheets source requires sheetId")
	}
	if err := validateTabs("google-sheets", opts.Tabs); err != nil {
		return nil, err
	}
	if client == nil {
		c := opts.Credentials
		if c.ClientEmail == "" || c.PrivateKey == "" {
			return nil, errors.New("google-sheets source requires credentials.clientEmail and credentials.privateKey")
		}
		conf := &jwt.Config{
			Email:      c.ClientEmail,
			PrivateKey: []byte(strings.ReplaceAll(c.PrivateKey, `\n`, "\n")),
			Scopes:     []string{sheets.SpreadsheetsScope},
			TokenURL:   google.JWTTokenURL,
		}
		client = conf.Client(ctx)
	}

	clientOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(strings.TrimRight(opts.Endpoint, "/")+"/"))
	}
	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google-sheets client: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = "google_sheets"
	}
	return &GoogleSheets{name: name, sheetID: opts.SheetID, tabs: tabSet(opts.Tabs), svc: svc}, nil
}

func (s *GoogleSheets) Name() string { return s.name }

func (s *GoogleSheets) Description() string {
	return "Google Sheets spreadsheet with tabs: " + s.tabs.describe()
}

func (s *GoogleSheets) QueryDescription() string {
	return "Query rows from the Google Sheets spreadsheet. Available tabs: " + strings.Join(s.tabs.keys(), ", ")
}

func (s *GoogleSheets) WriteDescription() string {
	return "Add a new row to the Google Sheets spreadsheet. Available tabs: " + strings.Join(s.tabs.keys(), ", ")
}

func (s *GoogleSheets) QuerySchema() *schema.Schema { return querySchema }
func (s *GoogleSheets) WriteSchema() *schema.Schema { return writeSchema }

func (s *GoogleSheets) Query(ctx context.Context, args map[string]any) (any, error) {
	q := parseQuery(args)
	title, err := s.sheet(ctx, q.tab)
	if err != nil {
		return nil, err
	}

	vr, err := s.svc.Spreadsheets.Values.Get(s.sheetID, a1(title)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", title, err)
	}
	if len(vr.Values) == 0 {
		return []Row{}, nil
	}
	headers := headerNames(vr.Values[0])
	rows := make([]Row, 0, len(vr.Values)-1)
	for _, cells := range vr.Values[1:] {
		row := make(Row, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(cells) {
				row[h] = cellString(cells[i])
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return q.apply(rows), nil
}

func (s *GoogleSheets) Write(ctx context.Context, args map[string]any) (any, error) {
	title, err := s.sheet(ctx, stringArg(args, "tab"))
	if err != nil {
		return nil, err
	}
	row := rowArg(args)

	hr, err := s.svc.Spreadsheets.Values.Get(s.sheetID, a1(title)+"!1:1").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read headers of %q: %w", title, err)
	}
	if len(hr.Values) == 0 || len(hr.Values[0]) == 0 {
		return nil, fmt.Errorf("sheet tab %q has no header row", title)
	}
	headers := headerNames(hr.Values[0])

	cells := make([]any, len(headers))
	written := Row{}
	for i, h := range headers {
		v, ok := row[h]
		if !ok || h == "" {
			cells[i] = ""
			continue
		}
		cells[i] = v
		written[h] = v
	}

	resp, err := s.svc.Spreadsheets.Values.Append(s.sheetID, a1(title), &sheets.ValueRange{
		Values: [][]any{cells},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("append to %q: %w", title, err)
	}
	rowNumber := 0
	if resp.Updates != nil {
		rowNumber = firstRow(resp.Updates.UpdatedRange)
	}
	return WriteResult{Success: true, RowNumber: rowNumber, Data: written}, nil
}

// sheet resolves a tab key and checks that the tab exists in the spreadsheet.
func (s *GoogleSheets) sheet(ctx context.Context, key string) (string, error) {
	title, err := s.tabs.resolve(key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.titles == nil {
		ss, err := s.svc.Spreadsheets.Get(s.sheetID).
			Fields(googleapi.Field("sheets.properties.title")).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("load spreadsheet %s: %w", s.sheetID, err)
		}
		titles := make(map[string]bool, len(ss.Sheets))
		for _, sh := range ss.Sheets {
			if sh.Properties != nil {
				titles[sh.Properties.Title] = true
			}
		}
		s.titles = titles
	}
	if !s.titles[title] {
		return "", fmt.Errorf("Sheet tab %q not found", title)
	}
	return title, nil
}

// a1 quotes a sheet title for use in A1 notation.
func a1(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func headerNames(cells []any) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(cellString(c))
	}
	return out
}

var rangeRowPattern = regexp.MustCompile(`![A-Z]*(\d+)`)

// firstRow extracts the starting row number from a range like "Expenses!A4:D4".
func firstRow(r string) int {
	m := rangeRowPattern.FindStringSubmatch(r)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
