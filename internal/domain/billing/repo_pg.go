package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/medibook/internal/platform/db"
)

const pendingPaymentConstraint = "payments_pending_appointment_key"

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const paymentCols = `id, appointment_id, user_id, amount, currency, razorpay_order_id,
	razorpay_payment_id, razorpay_signature, status, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var status string
	err := row.Scan(&p.ID, &p.AppointmentID, &p.UserID, &p.Amount, &p.Currency, &p.RazorpayOrderID,
		&p.RazorpayPaymentID, &p.RazorpaySignature, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, appointment_id, user_id, amount, currency, razorpay_order_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.AppointmentID, p.UserID, p.Amount, p.Currency, p.RazorpayOrderID, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.UniqueViolation(err, pendingPaymentConstraint) {
		return ErrPendingExists
	}
	return err
}

func (r *paymentRepoPG) GetPendingByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+paymentCols+` FROM payments
		WHERE appointment_id = $1 AND status = 'pending'`, appointmentID))
	if db.NoRows(err) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

func (r *paymentRepoPG) GetByOrderIDForUpdate(ctx context.Context, orderID string) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+paymentCols+` FROM payments
		WHERE razorpay_order_id = $1 FOR UPDATE`, orderID))
	if db.NoRows(err) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

func (r *paymentRepoPG) MarkSuccess(ctx context.Context, id uuid.UUID, paymentID, signature string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments
		SET status = 'success', razorpay_payment_id = $2, razorpay_signature = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, paymentID, signature)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, appointmentID *uuid.UUID) ([]*Payment, error) {
	query := `SELECT ` + paymentCols + ` FROM payments WHERE user_id = $1`
	args := []interface{}{userID}
	if appointmentID != nil {
		query += ` AND appointment_id = $2`
		args = append(args, *appointmentID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
