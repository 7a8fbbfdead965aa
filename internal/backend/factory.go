package backend

import (
	"context"
	"fmt"

	"sumarte/internal/api/memory"
	"sumarte/internal/api/rest"
	"sumarte/internal/log"
	"sumarte/internal/sheets"
	gsheet "sumarte/internal/sheets/google"
	sheetsmem "sumarte/internal/sheets/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case RESTBackend:
		b, err := rest.New(config.BaseURL, config.Timeout, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize REST backend: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized REST backend",
			"base_url", config.BaseURL,
			"timeout", config.Timeout.String())
		return &BackendResult{Backend: b, Type: RESTBackend}, nil
	case MemoryBackend:
		f.logger.WarnContext(ctx, "Using in-memory demo backend, data is lost on restart",
			"users", []string{memory.DemoAdminUser, memory.DemoExecutorUser})
		return &BackendResult{Backend: memory.NewDemo(), Type: MemoryBackend}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// CreateLedgerWriter returns the Google Sheets writer when a spreadsheet is
// configured and an in-memory writer otherwise.
func (f *DefaultFactory) CreateLedgerWriter(ctx context.Context, config Config) (sheets.LedgerWriter, error) {
	if config.SpreadsheetID == "" {
		f.logger.WarnContext(ctx, "No spreadsheet configured, ledgers are kept in memory")
		return sheetsmem.New(), nil
	}
	w, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   config.SpreadsheetID,
		CredentialsJSON: config.ServiceAccountJSON,
		CredentialsFile: config.ServiceAccountFile,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.InfoContext(ctx, "Initialized Google Sheets ledger writer", log.FieldSheetRef, config.SpreadsheetID)
	return w, nil
}
