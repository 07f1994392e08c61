package scheduling

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/domain/catalog"
	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/notification"
	"github.com/medibook/medibook/pkg/pagination"
)

// LocationLookup resolves a location from the catalog snapshot.
type LocationLookup interface {
	Location(id uuid.UUID) (*catalog.Location, error)
}

// ServiceLookup resolves a bookable service.
type ServiceLookup interface {
	GetService(ctx context.Context, id uuid.UUID) (*catalog.Service, error)
}

type Service struct {
	appts     AppointmentRepository
	locations LocationLookup
	services  ServiceLookup
	resolver  *Resolver
	notifier  notification.Notifier
	logger    zerolog.Logger
	validate  *validator.Validate
	loc       *time.Location
	now       func() time.Time
}

type Deps struct {
	Appointments AppointmentRepository
	Availability AvailabilityRepository
	Locations    LocationLookup
	Services     ServiceLookup
	Notifier     notification.Notifier
	Logger       zerolog.Logger
	// Location is the clinic time zone used to decide what "today" is.
	Location *time.Location
}

func NewService(d Deps) *Service {
	if d.Notifier == nil {
		d.Notifier = notification.NopNotifier{}
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &Service{
		appts:     d.Appointments,
		locations: d.Locations,
		services:  d.Services,
		resolver:  NewResolver(d.Availability, d.Location),
		notifier:  d.Notifier,
		logger:    d.Logger,
		validate:  newValidator(),
		loc:       d.Location,
		now:       time.Now,
	}
}

// ScopeFor returns the visibility scope of caller. Staff without the
// profile their role needs see nothing.
func ScopeFor(caller *auth.Caller) (Scope, error) {
	switch caller.Role {
	case auth.SuperAdmin:
		return Scope{}, nil
	case auth.LocationAdmin:
		if caller.LocationID == nil {
			return Scope{}, apperr.Forbidden("no location assigned to this account")
		}
		return Scope{LocationID: caller.LocationID}, nil
	case auth.Doctor:
		if caller.DoctorID == nil {
			return Scope{}, apperr.Forbidden("no doctor profile linked to this account")
		}
		return Scope{DoctorID: caller.DoctorID}, nil
	default:
		id := caller.UserID
		return Scope{PatientID: &id}, nil
	}
}

// -- Appointments --

func (s *Service) ListAppointments(ctx context.Context, caller *auth.Caller, f AppointmentFilter, pg pagination.Params) ([]*AppointmentView, int, error) {
	if caller == nil {
		return nil, 0, apperr.Unauthorized("authentication required")
	}
	scope, err := ScopeFor(caller)
	if err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status %q", f.Status)
	}
	for _, d := range []string{f.DateFrom, f.DateTo, f.Date} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, d); err != nil {
			return nil, 0, apperr.Validation("invalid date %q: want YYYY-MM-DD", d)
		}
	}

	items, total, err := s.appts.List(ctx, scope, f, pg.Limit(), pg.Offset())
	if err != nil {
		return nil, 0, apperr.Internal("list appointments", err)
	}
	if items == nil {
		items = []*AppointmentView{}
	}
	return items, total, nil
}

func (s *Service) CreateAppointment(ctx context.Context, caller *auth.Caller, req CreateAppointmentRequest) (*Appointment, error) {
	if caller == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Validation("%s", describeValidation(err))
	}

	start, err := ParseClock(req.StartTime)
	if err != nil {
		return nil, apperr.Validation("startTime: %v", err)
	}
	date, _ := time.ParseInLocation(DateLayout, req.AppointmentDate, s.loc)
	if date.Before(s.today()) {
		return nil, apperr.Validation("appointmentDate %s is in the past", req.AppointmentDate)
	}

	serviceID := uuid.MustParse(req.ServiceID)
	locationID := uuid.MustParse(req.LocationID)
	svc, err := s.services.GetService(ctx, serviceID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) || errors.Is(err, catalog.ErrServiceNotFound) {
			return nil, apperr.InvalidReference("service not found", err)
		}
		return nil, apperr.Internal("lookup service", err)
	}
	if !svc.Active {
		return nil, apperr.InvalidReference("service is no longer offered", nil)
	}
	loc, err := s.locations.Location(locationID)
	if err != nil {
		return nil, apperr.InvalidReference("location not found", err)
	}

	mode := catalog.Mode(req.Mode)
	if !svc.SupportsMode(mode) {
		return nil, apperr.Validation("service %q is not available as %s", svc.Name, mode)
	}

	end, rolled := EndTime(start, svc.DurationMinutes)
	if req.EndTime != "" {
		if end, err = ParseClock(req.EndTime); err != nil {
			return nil, apperr.Validation("endTime: %v", err)
		}
		rolled = end <= start
	}
	if rolled {
		return nil, apperr.Validation("appointment starting %s must end before midnight", start)
	}
	if date.Equal(s.today()) {
		now := s.now().In(s.loc)
		if start <= ClockTime(now.Hour()*60+now.Minute()) {
			return nil, apperr.Validation("startTime %s has already passed today", start)
		}
	}

	doctorID := uuid.MustParse(req.DoctorID)
	offered, err := s.resolver.Offers(ctx, doctorID, date, start, end)
	if err != nil {
		return nil, apperr.Internal("check doctor availability", err)
	}
	if !offered {
		return nil, apperr.Validation("the doctor does not offer %s-%s on %s", start, end, req.AppointmentDate)
	}

	appt := &Appointment{
		PatientID:       caller.UserID,
		DoctorID:        doctorID,
		ServiceID:       serviceID,
		LocationID:      locationID,
		AppointmentDate: req.AppointmentDate,
		StartTime:       start,
		EndTime:         end,
		Mode:            mode,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		Amount:          svc.PriceFor(loc.Tier),
		Notes:           req.Notes,
	}
	if err := s.appts.Create(ctx, appt); err != nil {
		switch {
		case errors.Is(err, ErrSlotTaken):
			return nil, apperr.Wrap(apperr.KindConflict, "this slot is already booked", err)
		case errors.Is(err, ErrUnknownDoctor):
			return nil, apperr.InvalidReference("doctor not found", err)
		}
		return nil, apperr.Internal("create appointment", err)
	}

	s.logger.Info().Str("appointment_id", appt.ID.String()).Str("doctor_id", req.DoctorID).
		Str("date", appt.AppointmentDate).Str("start", appt.StartTime.String()).Msg("appointment created")
	s.NotifyAppointment(ctx, notification.EventBookingConfirmation, appt.ID, notification.Data{})
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, caller *auth.Caller, id uuid.UUID) (*AppointmentView, error) {
	if caller == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	scope, err := ScopeFor(caller)
	if err != nil {
		return nil, err
	}
	v, err := s.appts.GetView(ctx, id)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, apperr.Internal("get appointment", err)
	}
	// Appointments outside the caller's scope look missing.
	if !scope.Allows(&v.Appointment) {
		return nil, apperr.NotFound("appointment not found")
	}
	return v, nil
}

// UpdateStatus applies a staff status change. Patients may only cancel
// their own pending or confirmed appointments.
func (s *Service) UpdateStatus(ctx context.Context, caller *auth.Caller, id uuid.UUID, req UpdateStatusRequest) (*Appointment, error) {
	current, err := s.GetAppointment(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil || !req.Status.Valid() {
		return nil, apperr.Validation("invalid status %q", req.Status)
	}
	if !caller.Role.IsStaff() && req.Status != StatusCancelled {
		return nil, apperr.Forbidden("patients can only cancel appointments")
	}
	from := current.Status
	if !canTransition(from, req.Status) {
		return nil, apperr.Validation("cannot change status from %s to %s", from, req.Status)
	}

	updated, err := s.appts.UpdateStatus(ctx, id, from, req.Status, req.Reason)
	if errors.Is(err, ErrStatusChanged) {
		return nil, apperr.Conflict("appointment was modified, reload and try again")
	}
	if err != nil {
		return nil, apperr.Internal("update appointment status", err)
	}

	s.logger.Info().Str("appointment_id", id.String()).Str("from", string(from)).Str("to", string(req.Status)).
		Str("by", caller.UserID.String()).Msg("appointment status changed")
	if req.Status == StatusCancelled {
		s.NotifyAppointment(ctx, notification.EventAppointmentCancelled, id, notification.Data{Reason: req.Reason})
	}
	return updated, nil
}

// AvailableSlots lists bookable slots for a doctor. serviceID may be nil,
// in which case the default slot length applies.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date string, serviceID *uuid.UUID) ([]Slot, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, apperr.Validation("invalid date %q: want YYYY-MM-DD", date)
	}
	duration := DefaultSlotMinutes
	if serviceID != nil {
		svc, err := s.services.GetService(ctx, *serviceID)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) || errors.Is(err, catalog.ErrServiceNotFound) {
				return nil, apperr.InvalidReference("service not found", err)
			}
			return nil, apperr.Internal("lookup service", err)
		}
		if !svc.Active {
			return nil, apperr.InvalidReference("service is no longer offered", nil)
		}
		duration = svc.DurationMinutes
	}
	slots, err := s.resolver.Slots(ctx, doctorID, date, duration)
	if err != nil {
		return nil, apperr.Internal("resolve slots", err)
	}
	return slots, nil
}

// SendReminders notifies every patient with a confirmed appointment on
// date. It returns how many reminders were handed to the notifier.
func (s *Service) SendReminders(ctx context.Context, date string) (int, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return 0, apperr.Validation("invalid date %q: want YYYY-MM-DD", date)
	}
	const batch = 100
	f := AppointmentFilter{Status: StatusConfirmed, Date: date}
	sent := 0
	for offset := 0; ; offset += batch {
		items, _, err := s.appts.List(ctx, Scope{}, f, batch, offset)
		if err != nil {
			return sent, apperr.Internal("list confirmed appointments", err)
		}
		for _, v := range items {
			if s.dispatchFor(ctx, notification.EventAppointmentReminder, v, notification.Data{}) {
				sent++
			}
		}
		if len(items) < batch {
			return sent, nil
		}
	}
}

// NotifyAppointment sends event to the appointment's patient. Failures are
// logged and swallowed.
func (s *Service) NotifyAppointment(ctx context.Context, event notification.Event, id uuid.UUID, extra notification.Data) {
	v, err := s.appts.GetView(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", id.String()).Str("event", string(event)).
			Msg("load appointment for notification")
		return
	}
	s.dispatchFor(ctx, event, v, extra)
}

func (s *Service) dispatchFor(ctx context.Context, event notification.Event, v *AppointmentView, extra notification.Data) bool {
	if v.PatientPhone == "" {
		s.logger.Debug().Str("appointment_id", v.ID.String()).Str("event", string(event)).
			Msg("patient has no phone number, skipping notification")
		return false
	}
	s.notifier.Dispatch(ctx, event, v.PatientPhone, notificationData(v, extra))
	return true
}

func notificationData(v *AppointmentView, extra notification.Data) notification.Data {
	d := notification.Data{
		PatientName:   v.PatientName,
		DoctorName:    v.DoctorName,
		ServiceName:   v.ServiceName,
		LocationName:  v.LocationName,
		Date:          v.AppointmentDate,
		Time:          v.StartTime.String(),
		Mode:          string(v.Mode),
		Amount:        v.Amount.StringFixed(2),
		AppointmentID: v.ID.String(),
		PaymentID:     extra.PaymentID,
		Reason:        extra.Reason,
	}
	if d.PaymentID == "" && v.RazorpayPaymentID != nil {
		d.PaymentID = *v.RazorpayPaymentID
	}
	return d
}

func (s *Service) today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "uuid":
		return fmt.Sprintf("%s must be a valid id", field)
	case "datetime":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid", field)
}

// newValidator reports field names by their JSON key.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
