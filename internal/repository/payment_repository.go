package repository

import (
	"context"
	"errors"
	"fmt"

	"payment_processing/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var paymentColumns = []string{
	"id",
	"order_id",
	"amount",
	"status",
	"notes",
	"created_at",
	"updated_at",
}

// GetByOrderID reads a payment outside any transaction (HTTP lookups).
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order_id is empty")
	}

	q := r.sb.
		Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"order_id": orderID}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get payment sql: %w", err)
	}

	return r.scanOne(r.db.QueryRow(ctx, sqlStr, args...))
}

// GetByOrderIDTx reads a payment under the handler transaction with a row lock,
// so concurrent handlers for the same order_id serialize here.
func (r *PaymentRepository) GetByOrderIDTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.Payment, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order_id is empty")
	}

	q := r.sb.
		Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"order_id": orderID}).
		Suffix("FOR UPDATE").
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get payment tx sql: %w", err)
	}

	return r.scanOne(tx.QueryRow(ctx, sqlStr, args...))
}

// CreateTx inserts a new payment inside the handler transaction.
// The unique index on order_id is the race-safety net: a concurrent duplicate
// comes back as ErrDuplicateOrder, not as a second row.
func (r *PaymentRepository) CreateTx(ctx context.Context, tx pgx.Tx, p *models.Payment) error {
	if p == nil {
		return fmt.Errorf("payment is nil")
	}
	if p.OrderID == uuid.Nil {
		return fmt.Errorf("order_id is empty")
	}
	if p.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}

	q := r.sb.
		Insert("payments").
		Columns("id", "order_id", "amount", "status").
		Values(p.ID, p.OrderID, p.Amount, p.Status).
		Suffix("RETURNING created_at, updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert payment sql: %w", err)
	}

	if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

// UpdateStatusTx moves a payment to the next status inside the handler
// transaction and bumps updated_at. notes is optional audit text.
func (r *PaymentRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, notes string) error {
	if id == uuid.Nil {
		return fmt.Errorf("payment id is empty")
	}

	q := r.sb.
		Update("payments").
		Set("status", status).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id})
	if notes != "" {
		q = q.Set("notes", notes)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update payment sql: %w", err)
	}

	tag, err := tx.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus feeds the status gauge collector.
func (r *PaymentRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM payments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count payments by status: %w", err)
	}
	defer rows.Close()

	res := make(map[string]int64)
	for rows.Next() {
		var status string
		var cnt int64
		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, fmt.Errorf("scan payment count: %w", err)
		}
		res[status] = cnt
	}
	return res, rows.Err()
}

func (r *PaymentRepository) scanOne(row pgx.Row) (*models.Payment, error) {
	var (
		p     models.Payment
		notes pgtype.Text
	)
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Amount,
		&p.Status,
		&notes,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if notes.Valid {
		s := notes.String
		p.Notes = &s
	}
	return &p, nil
}
