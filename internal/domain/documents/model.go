package documents

import (
	"time"

	"github.com/google/uuid"
)

// Prescription is a file a doctor attached to an appointment.
type Prescription struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	DoctorID      uuid.UUID `json:"doctorId"`
	ObjectKey     string    `json:"-"`
	FileName      string    `json:"fileName"`
	ContentType   string    `json:"contentType"`
	SizeBytes     int64     `json:"sizeBytes"`
	Notes         string    `json:"notes,omitempty"`
	// URL is a short-lived download link filled in when listing.
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Upload is one incoming prescription file.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Notes       string
}
