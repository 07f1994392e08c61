package documents

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/medibook/internal/platform/db"
)

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, appointment_id, doctor_id, object_key, file_name, content_type, size_bytes, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		p.ID, p.AppointmentID, p.DoctorID, p.ObjectKey, p.FileName, p.ContentType, p.SizeBytes, p.Notes,
	).Scan(&p.CreatedAt)
}

func (r *prescriptionRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, doctor_id, object_key, file_name, content_type, size_bytes, notes, created_at
		FROM prescriptions WHERE appointment_id = $1
		ORDER BY created_at, id`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.AppointmentID, &p.DoctorID, &p.ObjectKey, &p.FileName,
			&p.ContentType, &p.SizeBytes, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
