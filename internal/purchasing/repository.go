package purchasing

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentora-hq/dentora/internal/platform/db"
)

// TxRepository exposes purchase order mutations bound to one transaction.
type TxRepository interface {
	GetPOForUpdate(ctx context.Context, poID int64) (PurchaseOrder, error)
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line POLine) (int64, error)
	ReplaceLines(ctx context.Context, poID int64, lines []POLine) error
	AddLineReceipt(ctx context.Context, lineID int64, qty float64) error
	UpdateStatus(ctx context.Context, poID int64, status POStatus) error
}

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("purchasing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// NewTxRepository binds purchase order operations to an already-open
// transaction, so delivery receipts can update order progress and post
// ledger credits in one commit.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

const poColumns = `id, number, supplier_id, order_date, expected_date, status, note, created_by, created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.OrderDate, &po.ExpectedDate, &status, &po.Note, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	po.Status = POStatus(status)
	return po, err
}

func (r *txRepository) GetPOForUpdate(ctx context.Context, poID int64) (PurchaseOrder, error) {
	po, err := scanPO(r.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, poID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, r.tx, poID, true)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (r *txRepository) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, order_date, expected_date, status, note, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW()) RETURNING id`,
		po.Number, po.SupplierID, po.OrderDate, po.ExpectedDate, string(po.Status), po.Note, po.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line POLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, item_id, qty_ordered, unit_cost, qty_received, remarks)
VALUES ($1, $2, $3, $4, 0, $5) RETURNING id`,
		line.POID, line.ItemID, line.QtyOrdered, line.UnitCost, line.Remarks).Scan(&id)
	return id, err
}

func (r *txRepository) ReplaceLines(ctx context.Context, poID int64, lines []POLine) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE po_id=$1`, poID); err != nil {
		return err
	}
	for i := range lines {
		id, err := r.InsertLine(ctx, lines[i])
		if err != nil {
			return err
		}
		lines[i].ID = id
	}
	return nil
}

func (r *txRepository) AddLineReceipt(ctx context.Context, lineID int64, qty float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET qty_received = qty_received + $2 WHERE id=$1`, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, poID int64, status POStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, updated_at=NOW() WHERE id=$1`, poID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPO returns one order with its lines.
func (r *Repository) GetPO(ctx context.Context, poID int64) (PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id=$1`, poID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Lines, err = loadLines(ctx, r.pool, poID, false)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// List returns orders matching the filter, lines included.
func (r *Repository) List(ctx context.Context, filter POFilter) ([]PurchaseOrder, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.SupplierID != 0 {
		args = append(args, filter.SupplierID)
		where += ` AND supplier_id = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND order_date >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND order_date <= $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + poColumns + ` FROM purchase_orders` + where + ` ORDER BY order_date DESC, id DESC`
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

	orders := []PurchaseOrder{}
	for rows.Next() {
		var po PurchaseOrder
		var status string
		if err := rows.Scan(&po.ID, &po.Number, &po.SupplierID, &po.OrderDate, &po.ExpectedDate, &status, &po.Note, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt); err != nil {
			return nil, 0, err
		}
		po.Status = POStatus(status)
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Lines, err = loadLines(ctx, r.pool, orders[i].ID, false)
		if err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, poID int64, forUpdate bool) ([]POLine, error) {
	query := `SELECT id, po_id, item_id, qty_ordered, unit_cost, qty_received, remarks
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id ASC`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []POLine{}
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.ItemID, &line.QtyOrdered, &line.UnitCost, &line.QtyReceived, &line.Remarks); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
