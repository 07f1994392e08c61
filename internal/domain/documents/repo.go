package documents

import (
	"context"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/notification"
)

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Prescription, error)
}

// AppointmentReader loads an appointment the caller is allowed to see.
type AppointmentReader interface {
	GetAppointment(ctx context.Context, caller *auth.Caller, id uuid.UUID) (*scheduling.AppointmentView, error)
}

type AppointmentNotifier interface {
	NotifyAppointment(ctx context.Context, event notification.Event, id uuid.UUID, extra notification.Data)
}
