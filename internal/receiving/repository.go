package receiving

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/platform/db"
	"github.com/dentora-hq/dentora/internal/purchasing"
	"github.com/dentora-hq/dentora/internal/shared"
)

// Repository persists stock-in records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction. Ledger
// and purchase order operations bound to the same transaction are reachable
// through the wrapper, so a delivery commits as one unit.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("receiving repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			tx:        tx,
			ledger:    ledger.NewTxRepository(tx),
			orders:    purchasing.NewTxRepository(tx),
			sequences: shared.NewSequenceStore(tx),
		})
	})
}

type txRepository struct {
	tx        pgx.Tx
	ledger    ledger.TxRepository
	orders    purchasing.TxRepository
	sequences *shared.SequenceStore
}

func (r *txRepository) Ledger() ledger.TxRepository { return r.ledger }

func (r *txRepository) Orders() purchasing.TxRepository { return r.orders }

func (r *txRepository) NextNumber(ctx context.Context, prefix string, day time.Time) (string, error) {
	return r.sequences.Next(ctx, prefix, day)
}

func (r *txRepository) InsertStockIn(ctx context.Context, si StockIn) (int64, error) {
	var poID, supplierID *int64
	if si.POID > 0 {
		poID = &si.POID
	}
	if si.SupplierID > 0 {
		supplierID = &si.SupplierID
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ins (number, po_id, supplier_id, delivery_date, note, received_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING id`,
		si.Number, poID, supplierID, si.DeliveryDate, si.Note, si.ReceivedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertStockInLine(ctx context.Context, line StockInLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_in_lines (stock_in_id, item_id, batch_id, batch_no, qty, unit_cost, movement_id)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		line.StockInID, line.ItemID, line.BatchID, line.BatchNo, line.Qty, line.UnitCost, line.MovementID).Scan(&id)
	return id, err
}

const stockInColumns = `id, number, COALESCE(po_id, 0), COALESCE(supplier_id, 0), delivery_date, note, received_by, created_at`

func scanStockIn(row pgx.Row) (StockIn, error) {
	var si StockIn
	err := row.Scan(&si.ID, &si.Number, &si.POID, &si.SupplierID, &si.DeliveryDate, &si.Note, &si.ReceivedBy, &si.CreatedAt)
	return si, err
}

// GetStockIn returns one posted delivery with its lines.
func (r *Repository) GetStockIn(ctx context.Context, id int64) (StockIn, error) {
	si, err := scanStockIn(r.pool.QueryRow(ctx, `SELECT `+stockInColumns+` FROM stock_ins WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockIn{}, ErrNotFound
		}
		return StockIn{}, err
	}
	si.Lines, err = r.loadLines(ctx, si.ID)
	if err != nil {
		return StockIn{}, err
	}
	return si, nil
}

// List returns posted deliveries matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter StockInFilter) ([]StockIn, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.POID != 0 {
		args = append(args, filter.POID)
		where += ` AND po_id = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND delivery_date >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND delivery_date <= $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_ins`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + stockInColumns + ` FROM stock_ins` + where + ` ORDER BY delivery_date DESC, id DESC`
	if filter.PerPage > 0 {
		args = append(args, filter.PerPage)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		offset := (filter.Page - 1) * filter.PerPage
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []StockIn{}
	for rows.Next() {
		var si StockIn
		if err := rows.Scan(&si.ID, &si.Number, &si.POID, &si.SupplierID, &si.DeliveryDate, &si.Note, &si.ReceivedBy, &si.CreatedAt); err != nil {
			return nil, 0, err
		}
		records = append(records, si)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range records {
		records[i].Lines, err = r.loadLines(ctx, records[i].ID)
		if err != nil {
			return nil, 0, err
		}
	}
	return records, total, nil
}

func (r *Repository) loadLines(ctx context.Context, stockInID int64) ([]StockInLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, stock_in_id, item_id, batch_id, batch_no, qty, unit_cost, movement_id
FROM stock_in_lines WHERE stock_in_id=$1 ORDER BY id ASC`, stockInID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []StockInLine{}
	for rows.Next() {
		var line StockInLine
		if err := rows.Scan(&line.ID, &line.StockInID, &line.ItemID, &line.BatchID, &line.BatchNo, &line.Qty, &line.UnitCost, &line.MovementID); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
