package catalog

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dentora-hq/dentora/internal/shared"
)

// Item is one purchasable supply. Stock quantities never live here; they
// belong to the batch ledger.
type Item struct {
	ID           int64
	Code         string
	Name         string
	CategoryID   *int64
	Unit         string
	ReorderLevel float64
	SupplierID   *int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Availability is the derived stock position of one item.
type Availability struct {
	ItemID       int64   `json:"item_id"`
	OnHand       float64 `json:"on_hand"`
	ReorderLevel float64 `json:"reorder_level"`
	BelowReorder bool    `json:"below_reorder"`
}

// ReorderAlert flags an active item whose usable stock sits below its
// reorder level.
type ReorderAlert struct {
	ItemID       int64   `json:"item_id"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	OnHand       float64 `json:"on_hand"`
	ReorderLevel float64 `json:"reorder_level"`
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	Search     string
	CategoryID int64
	Active     *bool
	Page       int
	PerPage    int
}

var titleCaser = cases.Title(language.English)

// NormalizeName trims and title-cases an item name so "  composite RESIN "
// and "Composite Resin" land as the same catalog entry.
func NormalizeName(name string) string {
	return titleCaser.String(strings.Join(strings.Fields(name), " "))
}

var (
	// ErrNotFound indicates the item does not exist.
	ErrNotFound = fmt.Errorf("catalog: item %w", shared.ErrNotFound)
	// ErrCodeTaken indicates the item code is already in use.
	ErrCodeTaken = fmt.Errorf("catalog: item code already in use: %w", shared.ErrConflict)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("catalog: invalid input: %w", shared.ErrValidation)
	// ErrHasMovements blocks physical deletion of an item with ledger history.
	ErrHasMovements = fmt.Errorf("catalog: item has ledger history: %w", shared.ErrInvalidState)
)
