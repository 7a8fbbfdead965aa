// Package memory keeps written ledgers in process. It backs the export
// worker when no spreadsheet is configured and the tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ports "sumarte/internal/sheets"
)

type Store struct {
	mu      sync.Mutex
	ledgers map[string]ports.Ledger
	writes  int
}

var _ ports.LedgerWriter = (*Store)(nil)

func New() *Store {
	return &Store{ledgers: map[string]ports.Ledger{}}
}

// WriteLedger replaces any ledger with the same title.
func (s *Store) WriteLedger(_ context.Context, l ports.Ledger) (string, error) {
	if l.Title == "" || len(l.Rows) == 0 {
		return "", errors.New("ledger has no title or rows")
	}
	rows := make([][]string, len(l.Rows))
	for i, r := range l.Rows {
		rows[i] = append([]string(nil), r...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[l.Title] = ports.Ledger{Title: l.Title, Rows: rows}
	s.writes++
	return fmt.Sprintf("mem:%s!%d", l.Title, len(rows)), nil
}

// Ledger returns a copy of the ledger stored under title.
func (s *Store) Ledger(title string) (ports.Ledger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ledgers[title]
	if !ok {
		return ports.Ledger{}, false
	}
	rows := make([][]string, len(l.Rows))
	for i, r := range l.Rows {
		rows[i] = append([]string(nil), r...)
	}
	return ports.Ledger{Title: l.Title, Rows: rows}, true
}

// Writes counts successful writes.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
