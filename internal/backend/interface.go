// Package backend selects the budgeting backend and the ledger destination
// from configuration.
package backend

import (
	"context"
	"time"

	"sumarte/internal/api"
	"sumarte/internal/sheets"
)

// CleanupFunc releases resources held by a created backend.
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend api.Backend
	Type    BackendType
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	CreateLedgerWriter(ctx context.Context, config Config) (sheets.LedgerWriter, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// REST specific
	BaseURL string
	Timeout time.Duration

	// Ledger export. An empty spreadsheet ID keeps ledgers in memory.
	SpreadsheetID      string
	ServiceAccountJSON string
	ServiceAccountFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	RESTBackend   BackendType = "rest"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case RESTBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
