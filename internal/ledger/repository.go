package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentora-hq/dentora/internal/platform/db"
)

// Repository persists batches and movements in PostgreSQL.
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
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// NewTxRepository binds ledger operations to an already-open transaction, so
// receiving and stock-out flows can mix batch mutations with their own rows
// in a single commit.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

const batchColumns = `id, item_id, batch_no, expiry_date, qty_available, created_at, updated_at`

func scanBatch(row pgx.Row) (StockBatch, error) {
	var b StockBatch
	err := row.Scan(&b.ID, &b.ItemID, &b.BatchNo, &b.ExpiryDate, &b.QtyAvailable, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, batchID int64) (StockBatch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches WHERE id=$1 FOR UPDATE`, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBatch{}, ErrBatchNotFound
		}
		return StockBatch{}, err
	}
	return b, nil
}

func (r *txRepository) FindBatchForUpdate(ctx context.Context, itemID int64, batchNo string) (StockBatch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches WHERE item_id=$1 AND batch_no=$2 FOR UPDATE`, itemID, batchNo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBatch{}, ErrBatchNotFound
		}
		return StockBatch{}, err
	}
	return b, nil
}

func (r *txRepository) CreateBatch(ctx context.Context, batch StockBatch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_batches (item_id, batch_no, expiry_date, qty_available, created_at, updated_at)
VALUES ($1, $2, $3, 0, NOW(), NOW()) RETURNING id`, batch.ItemID, batch.BatchNo, batch.ExpiryDate).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateBatchQty(ctx context.Context, batchID int64, qty float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET qty_available=$2, updated_at=NOW() WHERE id=$1`, batchID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var patientID, invoiceID, chargeID, serviceID *int64
	if m.Treatment != nil {
		pid := m.Treatment.PatientID
		patientID = &pid
		invoiceID = m.Treatment.InvoiceID
		chargeID = m.Treatment.ChargeID
		serviceID = m.Treatment.ServiceID
	}
	var adjType *string
	if m.AdjustmentType != nil {
		t := string(*m.AdjustmentType)
		adjType = &t
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements
(batch_id, kind, qty, balance_qty, unit_cost, po_id, stock_in_no,
 released_to, purpose, reference_no, old_qty, new_qty, reason, adjustment_type,
 patient_id, invoice_id, charge_id, service_id, created_by, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
RETURNING id`,
		m.BatchID, string(m.Kind), m.Qty, m.BalanceQty, m.UnitCost, m.POID, m.StockInNo,
		m.ReleasedTo, m.Purpose, m.ReferenceNo, m.OldQty, m.NewQty, m.Reason, adjType,
		patientID, invoiceID, chargeID, serviceID, nullActor(m.CreatedBy), m.OccurredAt).Scan(&id)
	return id, err
}

func (r *txRepository) ListAvailableForUpdate(ctx context.Context, itemID int64, asOf time.Time) ([]StockBatch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE item_id=$1 AND qty_available > 0 AND (expiry_date IS NULL OR expiry_date >= $2)
ORDER BY expiry_date ASC NULLS LAST, id ASC
FOR UPDATE`, itemID, startOfDay(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *Repository) GetBatch(ctx context.Context, batchID int64) (StockBatch, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches WHERE id=$1`, batchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBatch{}, ErrBatchNotFound
		}
		return StockBatch{}, err
	}
	return b, nil
}

func (r *Repository) ListAvailable(ctx context.Context, itemID int64, asOf time.Time) ([]StockBatch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE item_id=$1 AND qty_available > 0 AND (expiry_date IS NULL OR expiry_date >= $2)
ORDER BY expiry_date ASC NULLS LAST, id ASC`, itemID, startOfDay(asOf))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]StockBatch, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.ItemID != 0 {
		args = append(args, filter.ItemID)
		where += ` AND item_id = $` + strconv.Itoa(len(args))
	}
	today := startOfDay(time.Now().UTC())
	switch filter.ExpiryFilter {
	case StatusExpired:
		args = append(args, today)
		where += ` AND expiry_date < $` + strconv.Itoa(len(args))
	case StatusExpiringSoon:
		args = append(args, today)
		where += ` AND expiry_date >= $` + strconv.Itoa(len(args))
		args = append(args, today.Add(ExpiringSoonWindow))
		where += ` AND expiry_date < $` + strconv.Itoa(len(args))
	case StatusGood:
		args = append(args, today.Add(ExpiringSoonWindow))
		where += ` AND expiry_date >= $` + strconv.Itoa(len(args))
	case StatusNoExpiry:
		where += ` AND expiry_date IS NULL`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_batches`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + batchColumns + ` FROM stock_batches` + where + ` ORDER BY expiry_date ASC NULLS LAST, id ASC`
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
	batches, err := collectBatches(rows)
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// CountExpiry reports batches with stock on hand that are past expiry or
// inside the expiring-soon window as of the given day.
func (r *Repository) CountExpiry(ctx context.Context, asOf time.Time) (expired, expiringSoon int, err error) {
	today := startOfDay(asOf)
	err = r.pool.QueryRow(ctx, `SELECT
COUNT(*) FILTER (WHERE expiry_date < $1),
COUNT(*) FILTER (WHERE expiry_date >= $1 AND expiry_date < $2)
FROM stock_batches WHERE qty_available > 0 AND expiry_date IS NOT NULL`,
		today, today.Add(ExpiringSoonWindow)).Scan(&expired, &expiringSoon)
	return expired, expiringSoon, err
}

const movementColumns = `m.id, m.batch_id, m.kind, m.qty, m.balance_qty, m.unit_cost, m.po_id, m.stock_in_no,
 m.released_to, m.purpose, m.reference_no, m.old_qty, m.new_qty, m.reason, m.adjustment_type,
 m.patient_id, m.invoice_id, m.charge_id, m.service_id, m.created_by, m.occurred_at`

func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	from := ` FROM stock_movements m`
	where := ` WHERE 1=1`
	args := []any{}
	if filter.ItemID != 0 {
		from += ` JOIN stock_batches b ON b.id = m.batch_id`
		args = append(args, filter.ItemID)
		where += ` AND b.item_id = $` + strconv.Itoa(len(args))
	}
	if filter.BatchID != 0 {
		args = append(args, filter.BatchID)
		where += ` AND m.batch_id = $` + strconv.Itoa(len(args))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where += ` AND m.kind = $` + strconv.Itoa(len(args))
	}
	if filter.ActorID != 0 {
		args = append(args, filter.ActorID)
		where += ` AND m.created_by = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND m.occurred_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND m.occurred_at <= $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + movementColumns + from + where + ` ORDER BY m.occurred_at ASC, m.id ASC`
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

	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var kind string
		var adjType *string
		var patientID, invoiceID, chargeID, serviceID *int64
		var createdBy *int64
		err := rows.Scan(&m.ID, &m.BatchID, &kind, &m.Qty, &m.BalanceQty, &m.UnitCost, &m.POID, &m.StockInNo,
			&m.ReleasedTo, &m.Purpose, &m.ReferenceNo, &m.OldQty, &m.NewQty, &m.Reason, &adjType,
			&patientID, &invoiceID, &chargeID, &serviceID, &createdBy, &m.OccurredAt)
		if err != nil {
			return nil, 0, err
		}
		m.Kind = MovementKind(kind)
		if adjType != nil {
			t := AdjustmentType(*adjType)
			m.AdjustmentType = &t
		}
		if patientID != nil {
			m.Treatment = &TreatmentLink{PatientID: *patientID, InvoiceID: invoiceID, ChargeID: chargeID, ServiceID: serviceID}
		}
		if createdBy != nil {
			m.CreatedBy = *createdBy
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

func collectBatches(rows pgx.Rows) ([]StockBatch, error) {
	batches := []StockBatch{}
	for rows.Next() {
		var b StockBatch
		if err := rows.Scan(&b.ID, &b.ItemID, &b.BatchNo, &b.ExpiryDate, &b.QtyAvailable, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
