package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPendingExists means the appointment already has an open order.
	ErrPendingExists = errors.New("appointment already has a pending payment")
)

// Status is the state of one payment attempt.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Payment is one gateway order raised for an appointment.
type Payment struct {
	ID                uuid.UUID       `json:"id"`
	AppointmentID     uuid.UUID       `json:"appointmentId"`
	UserID            uuid.UUID       `json:"userId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	RazorpayOrderID   string          `json:"razorpayOrderId"`
	RazorpayPaymentID *string         `json:"razorpayPaymentId,omitempty"`
	RazorpaySignature *string         `json:"-"`
	Status            Status          `json:"status"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type CreateOrderRequest struct {
	AppointmentID string `json:"appointmentId" validate:"required,uuid"`
}

// OrderResponse is what the checkout widget needs. Amount is in paise.
type OrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId"`
}

// VerifyRequest carries the fields the checkout widget posts back after
// a successful payment.
type VerifyRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

type VerifyResponse struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	AppointmentID uuid.UUID `json:"appointmentId"`
}

// Receipt is the merchant receipt sent with an order. The gateway caps
// receipts at 40 characters, so the id is written without hyphens.
func Receipt(appointmentID uuid.UUID) string {
	return "appt_" + strings.ReplaceAll(appointmentID.String(), "-", "")
}
