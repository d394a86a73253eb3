package catalog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists catalog items in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, code, name, category_id, unit_of_measure, reorder_level, supplier_id, is_active, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Code, &item.Name, &item.CategoryID, &item.Unit, &item.ReorderLevel,
		&item.SupplierID, &item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (r *Repository) Create(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO items (code, name, category_id, unit_of_measure, reorder_level, supplier_id, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW()) RETURNING id`,
		item.Code, item.Name, item.CategoryID, item.Unit, item.ReorderLevel, item.SupplierID, item.IsActive).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrCodeTaken
		}
		return 0, err
	}
	return id, nil
}

func (r *Repository) Update(ctx context.Context, item Item) error {
	tag, err := r.pool.Exec(ctx, `UPDATE items SET name=$2, category_id=$3, unit_of_measure=$4, reorder_level=$5, supplier_id=$6, updated_at=NOW()
WHERE id=$1`, item.ID, item.Name, item.CategoryID, item.Unit, item.ReorderLevel, item.SupplierID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *Repository) GetByCode(ctx context.Context, code string) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE code=$1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

func (r *Repository) List(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR code ILIKE $` + n + `)`
	}
	if filter.CategoryID != 0 {
		args = append(args, filter.CategoryID)
		where += ` AND category_id = $` + strconv.Itoa(len(args))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where += ` AND is_active = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + itemColumns + ` FROM items` + where + ` ORDER BY name ASC, id ASC`
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

	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Code, &item.Name, &item.CategoryID, &item.Unit, &item.ReorderLevel,
			&item.SupplierID, &item.IsActive, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM items WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE items SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBelowReorder returns active items whose usable stock, counting only
// unexpired batches as of the given day, is below the reorder level.
func (r *Repository) ListBelowReorder(ctx context.Context, asOf time.Time) ([]ReorderAlert, error) {
	day := asOf.UTC()
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.code, i.name,
COALESCE(SUM(b.qty_available) FILTER (WHERE b.expiry_date IS NULL OR b.expiry_date >= $1), 0) AS on_hand,
i.reorder_level
FROM items i
LEFT JOIN stock_batches b ON b.item_id = i.id
WHERE i.is_active
GROUP BY i.id, i.code, i.name, i.reorder_level
HAVING COALESCE(SUM(b.qty_available) FILTER (WHERE b.expiry_date IS NULL OR b.expiry_date >= $1), 0) < i.reorder_level
ORDER BY i.code ASC`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []ReorderAlert
	for rows.Next() {
		var a ReorderAlert
		if err := rows.Scan(&a.ItemID, &a.Code, &a.Name, &a.OnHand, &a.ReorderLevel); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *Repository) HasMovements(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM stock_movements m JOIN stock_batches b ON b.id = m.batch_id WHERE b.item_id = $1)`, id).Scan(&exists)
	return exists, err
}
