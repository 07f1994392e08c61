package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/medibook/internal/domain/catalog"
	"github.com/medibook/medibook/internal/platform/db"
)

const (
	slotUniqueConstraint = "appointments_doctor_slot_key"
	overlapConstraint    = "appointments_no_overlap"
	doctorForeignKey     = "appointments_doctor_id_fkey"
)

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `a.id, a.patient_id, a.doctor_id, a.service_id, a.location_id,
	to_char(a.appointment_date, 'YYYY-MM-DD'), to_char(a.start_time, 'HH24:MI'), to_char(a.end_time, 'HH24:MI'),
	a.mode, a.status, a.payment_status, a.amount, a.notes, COALESCE(a.cancellation_reason, ''),
	a.razorpay_order_id, a.razorpay_payment_id, a.created_at, a.updated_at`

const viewCols = apptCols + `,
	COALESCE(p.full_name, ''), COALESCE(p.email, ''), COALESCE(p.phone, ''),
	COALESCE(du.full_name, ''), COALESCE(s.name, ''), COALESCE(l.name, ''), COALESCE(l.city, '')`

const viewFrom = ` FROM appointments a
	LEFT JOIN users p ON p.id = a.patient_id
	LEFT JOIN doctors d ON d.id = a.doctor_id
	LEFT JOIN users du ON du.id = d.user_id
	LEFT JOIN services s ON s.id = a.service_id
	LEFT JOIN locations l ON l.id = a.location_id`

func apptDest(a *Appointment, start, end *string, mode, status, payStatus *string) []interface{} {
	return []interface{}{&a.ID, &a.PatientID, &a.DoctorID, &a.ServiceID, &a.LocationID,
		&a.AppointmentDate, start, end, mode, status, payStatus, &a.Amount, &a.Notes, &a.CancellationReason,
		&a.RazorpayOrderID, &a.RazorpayPaymentID, &a.CreatedAt, &a.UpdatedAt}
}

func finishScan(a *Appointment, start, end, mode, status, payStatus string) error {
	var err error
	if a.StartTime, err = ParseClock(start); err != nil {
		return err
	}
	if a.EndTime, err = ParseClock(end); err != nil {
		return err
	}
	a.Mode = catalog.Mode(mode)
	a.Status = Status(status)
	a.PaymentStatus = PaymentStatus(payStatus)
	return nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start, end, mode, status, payStatus string
	if err := row.Scan(apptDest(&a, &start, &end, &mode, &status, &payStatus)...); err != nil {
		return nil, err
	}
	return &a, finishScan(&a, start, end, mode, status, payStatus)
}

func scanView(row pgx.Row) (*AppointmentView, error) {
	var v AppointmentView
	var start, end, mode, status, payStatus string
	dest := append(apptDest(&v.Appointment, &start, &end, &mode, &status, &payStatus),
		&v.PatientName, &v.PatientEmail, &v.PatientPhone, &v.DoctorName, &v.ServiceName, &v.LocationName, &v.LocationCity)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &v, finishScan(&v.Appointment, start, end, mode, status, payStatus)
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, service_id, location_id,
			appointment_date, start_time, end_time, mode, status, payment_status, amount, notes)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7::time,$8::time,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.ServiceID, a.LocationID,
		a.AppointmentDate, a.StartTime.String(), a.EndTime.String(), string(a.Mode),
		string(a.Status), string(a.PaymentStatus), a.Amount, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	switch {
	case db.UniqueViolation(err, slotUniqueConstraint), db.ExclusionViolation(err, overlapConstraint):
		return ErrSlotTaken
	case db.ForeignKeyViolation(err, doctorForeignKey):
		return ErrUnknownDoctor
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments a WHERE a.id = $1`, id))
	if db.NoRows(err) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) GetView(ctx context.Context, id uuid.UUID) (*AppointmentView, error) {
	v, err := scanView(r.conn(ctx).QueryRow(ctx, `SELECT `+viewCols+viewFrom+` WHERE a.id = $1`, id))
	if db.NoRows(err) {
		return nil, ErrAppointmentNotFound
	}
	return v, err
}

func (r *appointmentRepoPG) List(ctx context.Context, scope Scope, f AppointmentFilter, limit, offset int) ([]*AppointmentView, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if scope.PatientID != nil {
		add("a.patient_id = $%d", *scope.PatientID)
	}
	if scope.DoctorID != nil {
		add("a.doctor_id = $%d", *scope.DoctorID)
	}
	if scope.LocationID != nil {
		add("a.location_id = $%d", *scope.LocationID)
	}
	if f.Status != "" {
		add("a.status = $%d", string(f.Status))
	}
	if f.Date != "" {
		add("a.appointment_date = $%d::date", f.Date)
	}
	if f.DateFrom != "" {
		add("a.appointment_date >= $%d::date", f.DateFrom)
	}
	if f.DateTo != "" {
		add("a.appointment_date <= $%d::date", f.DateTo)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments a`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	q := `SELECT ` + viewCols + viewFrom + cond +
		fmt.Sprintf(` ORDER BY a.appointment_date ASC, a.start_time ASC, a.id ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*AppointmentView
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments a SET status = $3, cancellation_reason = NULLIF($4, ''), updated_at = NOW()
		WHERE a.id = $1 AND a.status = $2
		RETURNING `+apptCols,
		id, string(from), string(to), reason))
	if db.NoRows(err) {
		return nil, ErrStatusChanged
	}
	return a, err
}

func (r *appointmentRepoPG) SetOrderID(ctx context.Context, id uuid.UUID, orderID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET razorpay_order_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND payment_status <> 'paid'`,
		id, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPayable
	}
	return nil
}

func (r *appointmentRepoPG) ConfirmPayment(ctx context.Context, orderID, paymentID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET status = 'confirmed', payment_status = 'paid', razorpay_payment_id = $2, updated_at = NOW()
		WHERE razorpay_order_id = $1 AND status IN ('pending', 'confirmed')
		RETURNING id`,
		orderID, paymentID).Scan(&id)
	if db.NoRows(err) {
		return uuid.Nil, ErrNotPayable
	}
	return id, err
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) RulesForDoctor(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM doctor_availability WHERE doctor_id = $1 AND active
		ORDER BY day_of_week, start_time`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AvailabilityRule
	for rows.Next() {
		var rule AvailabilityRule
		var day int
		var start, end string
		if err := rows.Scan(&rule.DoctorID, &day, &start, &end); err != nil {
			return nil, err
		}
		rule.DayOfWeek = time.Weekday(day)
		if rule.StartTime, err = ParseClock(start); err != nil {
			return nil, err
		}
		if rule.EndTime, err = ParseClock(end); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *availabilityRepoPG) BookedIntervals(ctx context.Context, doctorID uuid.UUID, date string) ([]Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2::date AND status <> 'cancelled'
		ORDER BY start_time`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		var start, end string
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		s, err := ParseClock(start)
		if err != nil {
			return nil, err
		}
		e, err := ParseClock(end)
		if err != nil {
			return nil, err
		}
		out = append(out, Interval{Start: s, End: e})
	}
	return out, rows.Err()
}
