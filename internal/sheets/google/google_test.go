package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	goption "google.golang.org/api/option"

	"sumarte/internal/log"
	ports "sumarte/internal/sheets"
)

// fakeSheets serves the four Sheets endpoints the client uses.
type fakeSheets struct {
	mu      sync.Mutex
	titles  []string
	calls   []string
	written [][]any
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/v4/spreadsheets/"):
		f.calls = append(f.calls, "get")
		var sheets []map[string]any
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		f.calls = append(f.calls, "add")
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rq := range req.Requests {
			f.titles = append(f.titles, rq.AddSheet.Properties.Title)
		}
		_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-1"}`)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		f.calls = append(f.calls, "clear")
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		f.calls = append(f.calls, "update")
		var vr struct {
			Values [][]any `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.written = vr.Values
		_, _ = io.WriteString(w, `{"updatedRows":1}`)
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), Config{SpreadsheetID: "sheet-1"}, log.Discard(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func testLedger() ports.Ledger {
	return ports.Ledger{
		Title: "1 Festival",
		Rows: [][]string{
			ports.LedgerHeader,
			{"2026-03-01", "Egreso", "Aprobado", "factura electrónica", "F-1", "Luces SpA", "Producción", "", "850000"},
		},
	}
}

func TestWriteLedger_CreatesMissingTab(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	ref, err := c.WriteLedger(context.Background(), testLedger())
	if err != nil {
		t.Fatalf("WriteLedger() error = %v", err)
	}
	if ref != "'1 Festival'!A1:I2" {
		t.Errorf("ref = %q", ref)
	}
	if got := strings.Join(fake.calls, ","); got != "get,add,update" {
		t.Errorf("calls = %s, want get,add,update", got)
	}
	if len(fake.written) != 2 || fake.written[1][8] != "850000" {
		t.Errorf("written = %v", fake.written)
	}
}

func TestWriteLedger_ClearsExistingTab(t *testing.T) {
	fake := &fakeSheets{titles: []string{"Resumen", "1 Festival"}}
	c := newTestClient(t, fake)

	if _, err := c.WriteLedger(context.Background(), testLedger()); err != nil {
		t.Fatalf("WriteLedger() error = %v", err)
	}
	if got := strings.Join(fake.calls, ","); got != "get,clear,update" {
		t.Errorf("calls = %s, want get,clear,update", got)
	}
}

func TestWriteLedger_Rejects(t *testing.T) {
	c := &Client{}
	if _, err := c.WriteLedger(context.Background(), testLedger()); err == nil {
		t.Error("expected error without a service")
	}

	c = newTestClient(t, &fakeSheets{})
	if _, err := c.WriteLedger(context.Background(), ports.Ledger{Title: "x"}); err == nil {
		t.Error("expected error for an empty ledger")
	}
}

func TestNew_RequiresSpreadsheetAndCredentials(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Error("expected error for missing spreadsheet ID")
	}
	_, err := New(context.Background(), Config{SpreadsheetID: "x"}, nil)
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Errorf("expected missing credentials error, got %v", err)
	}
}

func TestColumnName(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "A"}, {9, "I"}, {26, "Z"}, {27, "AA"}, {52, "AZ"}, {703, "AAA"}, {0, "A"},
	}
	for _, tt := range tests {
		if got := columnName(tt.n); got != tt.want {
			t.Errorf("columnName(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestQuoteTitle(t *testing.T) {
	if got := quoteTitle("Año 'uno'"); got != "'Año ''uno'''" {
		t.Errorf("quoteTitle() = %q", got)
	}
}
