// Package google writes ledgers to a Google spreadsheet with a service
// account.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"sumarte/internal/log"
	ports "sumarte/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *log.Logger
}

var _ ports.LedgerWriter = (*Client)(nil)

// Config selects the spreadsheet and the service account. JSON wins over
// File when both are set.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
}

// New creates the Sheets service. extra options are appended last, which
// lets tests point the client at a fake endpoint.
func New(ctx context.Context, cfg Config, logger *log.Logger, extra ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	opts := []goption.ClientOption{goption.WithScopes(gsheet.SpreadsheetsScope)}
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		logger.InfoContext(ctx, "Using inline service account credentials")
		opts = append(opts, goption.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		logger.InfoContext(ctx, "Using service account credentials file", "path", cfg.CredentialsFile)
		opts = append(opts, goption.WithCredentialsFile(cfg.CredentialsFile))
	case len(extra) == 0:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
	opts = append(opts, extra...)

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, logger: logger}, nil
}

// WriteLedger creates the ledger tab if needed, clears it and writes every
// row starting at A1.
func (c *Client) WriteLedger(ctx context.Context, l ports.Ledger) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if l.Title == "" || len(l.Rows) == 0 {
		return "", errors.New("ledger has no title or rows")
	}

	exists, err := c.hasSheet(ctx, l.Title)
	if err != nil {
		return "", err
	}
	tab := quoteTitle(l.Title)

	if exists {
		_, err = c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, tab, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("clear sheet %s: %w", l.Title, err)
		}
	} else {
		req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{
				Title: l.Title,
				GridProperties: &gsheet.GridProperties{
					RowCount:       int64(max(len(l.Rows)+20, 100)),
					ColumnCount:    int64(l.Width()),
					FrozenRowCount: 1,
				},
			}},
		}}}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("add sheet %s: %w", l.Title, err)
		}
	}

	values := make([][]any, len(l.Rows))
	for i, row := range l.Rows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		values[i] = cells
	}
	ref := fmt.Sprintf("%s!A1:%s%d", tab, columnName(l.Width()), len(l.Rows))
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, ref, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("write ledger %s: %w", l.Title, err)
	}

	c.logger.InfoContext(ctx, "Ledger written",
		log.FieldSheetRef, ref,
		"rows", len(l.Rows),
		"created", !exists)
	return ref, nil
}

func (c *Client) hasSheet(ctx context.Context, title string) (bool, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read spreadsheet %s: %w", c.spreadsheetID, err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return true, nil
		}
	}
	return false, nil
}

// quoteTitle makes a title usable in A1 notation.
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// columnName converts a 1-based column index to its letters.
func columnName(n int) string {
	if n < 1 {
		return "A"
	}
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}
