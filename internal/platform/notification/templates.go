// Package notification sends templated WhatsApp/SMS messages on appointment
// lifecycle events. Delivery is best-effort: failures are logged, never
// returned to the code that triggered the event.
package notification

import (
	"fmt"
	"strings"
)

type Event string

const (
	EventBookingConfirmation  Event = "booking_confirmation"
	EventPaymentSuccess       Event = "payment_success"
	EventAppointmentReminder  Event = "appointment_reminder"
	EventAppointmentCancelled Event = "appointment_cancelled"
	EventPrescriptionUploaded Event = "prescription_uploaded"
)

// Channel is how a message reaches the recipient.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

func (c Channel) Valid() bool {
	return c == ChannelWhatsApp || c == ChannelSMS
}

// Data is the record every template renders from. Templates use only the
// fields they need.
type Data struct {
	PatientName   string `json:"patientName"`
	DoctorName    string `json:"doctorName,omitempty"`
	ServiceName   string `json:"serviceName,omitempty"`
	LocationName  string `json:"locationName,omitempty"`
	Date          string `json:"date,omitempty"`
	Time          string `json:"time,omitempty"`
	Mode          string `json:"mode,omitempty"`
	Amount        string `json:"amount,omitempty"`
	AppointmentID string `json:"appointmentId,omitempty"`
	PaymentID     string `json:"paymentId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Template renders the message text for one event.
type Template func(Data) string

// Templates holds one pure renderer per event.
var Templates = map[Event]Template{
	EventBookingConfirmation: func(d Data) string {
		return fmt.Sprintf("Hi %s, your %s appointment with %s is booked for %s at %s (%s). "+
			"Complete the payment of Rs. %s to confirm it. Ref: %s",
			name(d.PatientName), d.ServiceName, d.DoctorName, d.Date, d.Time, where(d), d.Amount, shortRef(d.AppointmentID))
	},
	EventPaymentSuccess: func(d Data) string {
		return fmt.Sprintf("Hi %s, we received your payment of Rs. %s. Your appointment with %s on %s at %s is confirmed. "+
			"Payment ID: %s",
			name(d.PatientName), d.Amount, d.DoctorName, d.Date, d.Time, d.PaymentID)
	},
	EventAppointmentReminder: func(d Data) string {
		return fmt.Sprintf("Reminder: %s, you have a %s appointment with %s on %s at %s (%s).",
			name(d.PatientName), d.ServiceName, d.DoctorName, d.Date, d.Time, where(d))
	},
	EventAppointmentCancelled: func(d Data) string {
		msg := fmt.Sprintf("Hi %s, your appointment with %s on %s at %s has been cancelled.",
			name(d.PatientName), d.DoctorName, d.Date, d.Time)
		if d.Reason != "" {
			msg += " Reason: " + d.Reason + "."
		}
		return msg
	},
	EventPrescriptionUploaded: func(d Data) string {
		return fmt.Sprintf("Hi %s, %s has uploaded a prescription for your appointment on %s. "+
			"You can view it from your dashboard.",
			name(d.PatientName), d.DoctorName, d.Date)
	},
}

// Render returns the text for event, or false if there is no template.
func Render(event Event, d Data) (string, bool) {
	tpl, ok := Templates[event]
	if !ok {
		return "", false
	}
	return tpl(d), true
}

func name(s string) string {
	if strings.TrimSpace(s) == "" {
		return "there"
	}
	return s
}

func where(d Data) string {
	switch d.Mode {
	case "online":
		return "video consultation"
	case "home_visit":
		return "home visit"
	}
	if d.LocationName != "" {
		return d.LocationName
	}
	return "in clinic"
}

func shortRef(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}
