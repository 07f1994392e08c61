package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/notification"
)

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	// GetPendingByAppointment returns the open order for an appointment or
	// ErrPaymentNotFound.
	GetPendingByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	// GetByOrderIDForUpdate locks the payment row for the rest of the
	// surrounding transaction.
	GetByOrderIDForUpdate(ctx context.Context, orderID string) (*Payment, error)
	MarkSuccess(ctx context.Context, id uuid.UUID, paymentID, signature string) error
	ListByUser(ctx context.Context, userID uuid.UUID, appointmentID *uuid.UUID) ([]*Payment, error)
}

// Appointments is the part of the appointment store billing writes to.
type Appointments interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	SetOrderID(ctx context.Context, id uuid.UUID, orderID string) error
	ConfirmPayment(ctx context.Context, orderID, paymentID string) (uuid.UUID, error)
}

// Locker serialises order creation per appointment across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// AppointmentNotifier sends an appointment event to its patient.
type AppointmentNotifier interface {
	NotifyAppointment(ctx context.Context, event notification.Event, id uuid.UUID, extra notification.Data)
}
