package stockout

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dentora-hq/dentora/internal/ledger"
	"github.com/dentora-hq/dentora/internal/platform/db"
	"github.com/dentora-hq/dentora/internal/shared"
)

// Repository persists stock-out records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction with
// ledger operations bound to the same transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stockout repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			tx:        tx,
			ledger:    ledger.NewTxRepository(tx),
			sequences: shared.NewSequenceStore(tx),
		})
	})
}

type txRepository struct {
	tx        pgx.Tx
	ledger    ledger.TxRepository
	sequences *shared.SequenceStore
}

func (r *txRepository) Ledger() ledger.TxRepository { return r.ledger }

func (r *txRepository) NextNumber(ctx context.Context, prefix string, day time.Time) (string, error) {
	return r.sequences.Next(ctx, prefix, day)
}

func (r *txRepository) InsertStockOut(ctx context.Context, so StockOut) (int64, error) {
	var patientID, invoiceID, chargeID, serviceID *int64
	if so.Treatment != nil {
		pid := so.Treatment.PatientID
		patientID = &pid
		invoiceID = so.Treatment.InvoiceID
		chargeID = so.Treatment.ChargeID
		serviceID = so.Treatment.ServiceID
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_outs
(reference_no, released_to, purpose, note, released_by, occurred_at,
 patient_id, invoice_id, charge_id, service_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()) RETURNING id`,
		so.ReferenceNo, so.ReleasedTo, so.Purpose, so.Note, so.ReleasedBy, so.OccurredAt,
		patientID, invoiceID, chargeID, serviceID).Scan(&id)
	return id, err
}

func (r *txRepository) InsertAllocation(ctx context.Context, alloc Allocation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_out_allocations (stock_out_id, item_id, batch_id, qty, movement_id)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		alloc.StockOutID, alloc.ItemID, alloc.BatchID, alloc.Qty, alloc.MovementID).Scan(&id)
	return id, err
}

const stockOutColumns = `id, reference_no, released_to, purpose, note, released_by, occurred_at,
 patient_id, invoice_id, charge_id, service_id, created_at`

func scanStockOut(row pgx.Row) (StockOut, error) {
	var so StockOut
	var patientID, invoiceID, chargeID, serviceID *int64
	err := row.Scan(&so.ID, &so.ReferenceNo, &so.ReleasedTo, &so.Purpose, &so.Note, &so.ReleasedBy, &so.OccurredAt,
		&patientID, &invoiceID, &chargeID, &serviceID, &so.CreatedAt)
	if patientID != nil {
		so.Treatment = &ledger.TreatmentLink{PatientID: *patientID, InvoiceID: invoiceID, ChargeID: chargeID, ServiceID: serviceID}
	}
	return so, err
}

// GetStockOut returns one posted release with its allocations.
func (r *Repository) GetStockOut(ctx context.Context, id int64) (StockOut, error) {
	so, err := scanStockOut(r.pool.QueryRow(ctx, `SELECT `+stockOutColumns+` FROM stock_outs WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockOut{}, ErrNotFound
		}
		return StockOut{}, err
	}
	so.Allocations, err = r.loadAllocations(ctx, so.ID)
	if err != nil {
		return StockOut{}, err
	}
	return so, nil
}

// List returns posted releases matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter StockOutFilter) ([]StockOut, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.ReleasedTo != "" {
		args = append(args, filter.ReleasedTo)
		where += ` AND released_to = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND occurred_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND occurred_at <= $` + strconv.Itoa(len(args))
	}
	return r.queryStockOuts(ctx, where, args, filter.Page, filter.PerPage)
}

// ListTreatmentUsage returns releases linked to clinical records.
func (r *Repository) ListTreatmentUsage(ctx context.Context, filter TreatmentFilter) ([]StockOut, int, error) {
	where := ` WHERE patient_id IS NOT NULL`
	args := []any{}
	if filter.PatientID != 0 {
		args = append(args, filter.PatientID)
		where += ` AND patient_id = $` + strconv.Itoa(len(args))
	}
	if filter.InvoiceID != 0 {
		args = append(args, filter.InvoiceID)
		where += ` AND invoice_id = $` + strconv.Itoa(len(args))
	}
	return r.queryStockOuts(ctx, where, args, filter.Page, filter.PerPage)
}

func (r *Repository) queryStockOuts(ctx context.Context, where string, args []any, page, perPage int) ([]StockOut, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_outs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + stockOutColumns + ` FROM stock_outs` + where + ` ORDER BY occurred_at DESC, id DESC`
	if perPage > 0 {
		args = append(args, perPage)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		offset := (page - 1) * perPage
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

	records := []StockOut{}
	for rows.Next() {
		var so StockOut
		var patientID, invoiceID, chargeID, serviceID *int64
		err := rows.Scan(&so.ID, &so.ReferenceNo, &so.ReleasedTo, &so.Purpose, &so.Note, &so.ReleasedBy, &so.OccurredAt,
			&patientID, &invoiceID, &chargeID, &serviceID, &so.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		if patientID != nil {
			so.Treatment = &ledger.TreatmentLink{PatientID: *patientID, InvoiceID: invoiceID, ChargeID: chargeID, ServiceID: serviceID}
		}
		records = append(records, so)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range records {
		records[i].Allocations, err = r.loadAllocations(ctx, records[i].ID)
		if err != nil {
			return nil, 0, err
		}
	}
	return records, total, nil
}

func (r *Repository) loadAllocations(ctx context.Context, stockOutID int64) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, stock_out_id, item_id, batch_id, qty, movement_id
FROM stock_out_allocations WHERE stock_out_id=$1 ORDER BY id ASC`, stockOutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	allocs := []Allocation{}
	for rows.Next() {
		var alloc Allocation
		if err := rows.Scan(&alloc.ID, &alloc.StockOutID, &alloc.ItemID, &alloc.BatchID, &alloc.Qty, &alloc.MovementID); err != nil {
			return nil, err
		}
		allocs = append(allocs, alloc)
	}
	return allocs, rows.Err()
}
