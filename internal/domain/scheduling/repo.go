package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	// Create inserts a with generated id and timestamps. An overlapping
	// active booking for the same doctor yields ErrSlotTaken.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetView(ctx context.Context, id uuid.UUID) (*AppointmentView, error)
	List(ctx context.Context, scope Scope, filter AppointmentFilter, limit, offset int) ([]*AppointmentView, int, error)
	// UpdateStatus moves id from one status to another and fails with
	// ErrStatusChanged when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Appointment, error)

	// SetOrderID stores the current gateway order on an appointment.
	SetOrderID(ctx context.Context, id uuid.UUID, orderID string) error
	// ConfirmPayment marks the appointment holding orderID as confirmed
	// and paid and returns its id.
	ConfirmPayment(ctx context.Context, orderID, paymentID string) (uuid.UUID, error)
}

type AvailabilityRepository interface {
	RulesForDoctor(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityRule, error)
	BookedIntervals(ctx context.Context, doctorID uuid.UUID, date string) ([]Interval, error)
}
