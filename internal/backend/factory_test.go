package backend

import (
	"context"
	"testing"
	"time"

	"sumarte/internal/api/memory"
	"sumarte/internal/api/rest"
	"sumarte/internal/config"
	sheetsmem "sumarte/internal/sheets/memory"
)

func TestFromAppConfig(t *testing.T) {
	cfg := &config.Config{
		DataBackend:              "rest",
		BackendURL:               "http://localhost:8000",
		BackendTimeout:           10 * time.Second,
		GoogleSpreadsheetID:      "sheet-1",
		GoogleServiceAccountFile: "/tmp/sa.json",
	}
	got, err := FromAppConfig(cfg)
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if got.Type != RESTBackend || got.BaseURL != cfg.BackendURL || got.SpreadsheetID != "sheet-1" {
		t.Errorf("FromAppConfig() = %+v", got)
	}

	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"rest", Config{Type: RESTBackend, BaseURL: "https://api.sumarte.cl", Timeout: time.Second}, false},
		{"rest without url", Config{Type: RESTBackend, Timeout: time.Second}, true},
		{"rest without timeout", Config{Type: RESTBackend, BaseURL: "https://api.sumarte.cl"}, true},
		{"unknown", Config{Type: "sqlite"}, true},
		{"sheet without credentials", Config{Type: MemoryBackend, SpreadsheetID: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend(t *testing.T) {
	f := NewFactory(nil)
	ctx := context.Background()

	res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("CreateBackend(memory) error = %v", err)
	}
	if _, ok := res.Backend.(*memory.Store); !ok {
		t.Errorf("memory backend has type %T", res.Backend)
	}
	if _, err := res.Backend.Login(ctx, memory.DemoAdminUser, memory.DemoAdminUser); err != nil {
		t.Errorf("demo login failed: %v", err)
	}

	res, err = f.CreateBackend(ctx, Config{Type: RESTBackend, BaseURL: "http://localhost:8000", Timeout: time.Second})
	if err != nil {
		t.Fatalf("CreateBackend(rest) error = %v", err)
	}
	if _, ok := res.Backend.(*rest.Backend); !ok {
		t.Errorf("rest backend has type %T", res.Backend)
	}
}

func TestCreateLedgerWriterFallsBackToMemory(t *testing.T) {
	w, err := NewFactory(nil).CreateLedgerWriter(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("CreateLedgerWriter() error = %v", err)
	}
	if _, ok := w.(*sheetsmem.Store); !ok {
		t.Errorf("writer has type %T", w)
	}
}
