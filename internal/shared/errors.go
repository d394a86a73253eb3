package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error taxonomy shared by every ledger-facing module. Domain packages wrap
// these sentinels so HTTP mapping stays in one place.
var (
	// ErrValidation indicates malformed or missing input, rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates an operation not allowed in the entity's current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates the request clashes with existing data.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientStock indicates a debit exceeding available quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)

// LineErrors aggregates per-line failures so a multi-line request is rejected
// with every problem reported in one round trip.
type LineErrors struct {
	byLine map[int][]string
}

// Add records a failure for the zero-based line index.
func (e *LineErrors) Add(line int, msg string) {
	if e.byLine == nil {
		e.byLine = make(map[int][]string)
	}
	e.byLine[line] = append(e.byLine[line], msg)
}

// Empty reports whether no failure was recorded.
func (e *LineErrors) Empty() bool {
	return e == nil || len(e.byLine) == 0
}

// Lines returns recorded failures keyed by line index.
func (e *LineErrors) Lines() map[int][]string {
	if e == nil {
		return nil
	}
	return e.byLine
}

func (e *LineErrors) Error() string {
	if e.Empty() {
		return "validation failed"
	}
	idx := make([]int, 0, len(e.byLine))
	for i := range e.byLine {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("line %d: %s", i, strings.Join(e.byLine[i], "; ")))
	}
	return "validation failed: " + strings.Join(parts, " | ")
}

// Unwrap makes LineErrors match ErrValidation.
func (e *LineErrors) Unwrap() error {
	return ErrValidation
}

// BatchShortage names one batch that could not cover a requested debit.
type BatchShortage struct {
	BatchID   int64   `json:"batch_id"`
	ItemID    int64   `json:"item_id"`
	Requested float64 `json:"requested"`
	Available float64 `json:"available"`
}

// StockShortageError lists the batches behind an insufficient-stock rejection.
type StockShortageError struct {
	Shortages []BatchShortage
}

func (e *StockShortageError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("batch %d: requested %.3f, available %.3f", s.BatchID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// Unwrap makes StockShortageError match ErrInsufficientStock.
func (e *StockShortageError) Unwrap() error {
	return ErrInsufficientStock
}
