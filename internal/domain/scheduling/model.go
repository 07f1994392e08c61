package scheduling

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medibook/medibook/internal/domain/catalog"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrSlotTaken           = errors.New("slot is already booked")
	ErrUnknownDoctor       = errors.New("doctor does not exist")
	ErrStatusChanged       = errors.New("appointment status changed concurrently")
	ErrNotPayable          = errors.New("appointment can no longer be paid")
)

// DateLayout is the wire and storage format of appointment dates.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

// staffTransitions lists the status changes staff may make. Confirmation
// only ever happens through a verified payment.
var staffTransitions = map[Status][]Status{
	StatusPending:   {StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func canTransition(from, to Status) bool {
	for _, s := range staffTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ClockTime is a time of day in minutes since midnight.
type ClockTime int

const minutesPerDay = 24 * 60

// ParseClock accepts "HH:MM" or "HH:MM:SS" (seconds are ignored).
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 || len(parts[0]) != 2 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime(h*60 + m), nil
}

func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// EndTime adds durationMinutes to start on a 24-hour clock. The second
// result reports whether the addition reached or passed midnight.
func EndTime(start ClockTime, durationMinutes int) (ClockTime, bool) {
	total := int(start) + durationMinutes
	end := ((total % minutesPerDay) + minutesPerDay) % minutesPerDay
	return ClockTime(end), total >= minutesPerDay
}

type Appointment struct {
	ID                 uuid.UUID       `json:"id"`
	PatientID          uuid.UUID       `json:"patientId"`
	DoctorID           uuid.UUID       `json:"doctorId"`
	ServiceID          uuid.UUID       `json:"serviceId"`
	LocationID         uuid.UUID       `json:"locationId"`
	AppointmentDate    string          `json:"appointmentDate"`
	StartTime          ClockTime       `json:"startTime"`
	EndTime            ClockTime       `json:"endTime"`
	Mode               catalog.Mode    `json:"mode"`
	Status             Status          `json:"status"`
	PaymentStatus      PaymentStatus   `json:"paymentStatus"`
	Amount             decimal.Decimal `json:"amount"`
	Notes              string          `json:"notes,omitempty"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	RazorpayOrderID    *string         `json:"razorpayOrderId,omitempty"`
	RazorpayPaymentID  *string         `json:"razorpayPaymentId,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// AppointmentView is an appointment joined with the names shown in lists
// and messages.
type AppointmentView struct {
	Appointment
	PatientName  string `json:"patientName"`
	PatientEmail string `json:"patientEmail"`
	PatientPhone string `json:"-"`
	DoctorName   string `json:"doctorName"`
	ServiceName  string `json:"serviceName"`
	LocationName string `json:"locationName"`
	LocationCity string `json:"locationCity"`
}

// CreateAppointmentRequest is the POST /appointments body.
type CreateAppointmentRequest struct {
	DoctorID        string `json:"doctorId" validate:"required,uuid"`
	ServiceID       string `json:"serviceId" validate:"required,uuid"`
	LocationID      string `json:"locationId" validate:"required,uuid"`
	AppointmentDate string `json:"appointmentDate" validate:"required,datetime=2006-01-02"`
	StartTime       string `json:"startTime" validate:"required"`
	EndTime         string `json:"endTime,omitempty"`
	Mode            string `json:"mode" validate:"required,oneof=online offline home_visit"`
	Notes           string `json:"notes,omitempty" validate:"max=2000"`
}

type UpdateStatusRequest struct {
	Status Status `json:"status" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// AppointmentFilter narrows a listing. Dates are inclusive.
type AppointmentFilter struct {
	Status   Status
	DateFrom string
	DateTo   string
	Date     string
}

// Scope restricts queries to what a caller may see. A zero Scope sees
// everything.
type Scope struct {
	PatientID  *uuid.UUID
	DoctorID   *uuid.UUID
	LocationID *uuid.UUID
}

func (s Scope) Allows(a *Appointment) bool {
	if s.PatientID != nil && a.PatientID != *s.PatientID {
		return false
	}
	if s.DoctorID != nil && a.DoctorID != *s.DoctorID {
		return false
	}
	if s.LocationID != nil && a.LocationID != *s.LocationID {
		return false
	}
	return true
}

// AvailabilityRule is one weekly working range of a doctor.
type AvailabilityRule struct {
	DoctorID  uuid.UUID    `json:"doctorId"`
	DayOfWeek time.Weekday `json:"dayOfWeek"`
	StartTime ClockTime    `json:"startTime"`
	EndTime   ClockTime    `json:"endTime"`
}

// Interval is a half-open booked range [Start, End).
type Interval struct {
	Start ClockTime
	End   ClockTime
}

func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

type Slot struct {
	StartTime ClockTime `json:"startTime"`
	EndTime   ClockTime `json:"endTime"`
	Available bool      `json:"available"`
}
