package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medibook/medibook/internal/domain/billing"
	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/paygateway"
)

// bookForPayment creates a pending appointment and returns it with its
// patient.
func bookForPayment(t *testing.T, ctx context.Context, sched *scheduling.Service, daysAhead int) (*scheduling.Appointment, *auth.Caller) {
	t.Helper()
	doctorID := createDoctor(t, ctx, nagpurLocation)
	patient := &auth.Caller{UserID: createUser(t, ctx, "patient", "+919800000202"), Role: auth.Patient}
	appt, err := sched.CreateAppointment(ctx, patient,
		bookingRequest(doctorID, dermatologyService, nagpurLocation, bookingDate(daysAhead), "16:00"))
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return appt, patient
}

func TestPayment_OrderVerifyAndTamper(t *testing.T) {
	ctx := context.Background()
	sched := newSchedulingService(t, ctx)
	bill := newBillingService(sched)
	appt, patient := bookForPayment(t, ctx, sched, 14)

	order, err := bill.CreateOrder(ctx, patient, appt.ID)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Amount != 70000 || order.Currency != paygateway.CurrencyINR {
		t.Errorf("expected 70000 paise INR, got %d %s", order.Amount, order.Currency)
	}
	state := loadAppointmentState(t, ctx, appt.ID)
	if state.OrderID == nil || *state.OrderID != order.OrderID {
		t.Fatalf("appointment order id = %v, want %s", state.OrderID, order.OrderID)
	}
	if got := paymentStatus(t, ctx, order.OrderID); got != "pending" {
		t.Errorf("payment status = %s, want pending", got)
	}

	again, err := bill.CreateOrder(ctx, patient, appt.ID)
	if err != nil || again.OrderID != order.OrderID {
		t.Errorf("repeat order should return %s, got %+v err=%v", order.OrderID, again, err)
	}

	// Tampered signature changes nothing.
	_, err = bill.VerifyPayment(ctx, billing.VerifyRequest{
		OrderID:   order.OrderID,
		PaymentID: "pay_integration1",
		Signature: paygateway.Signature(order.OrderID, "pay_integration1", "wrong_secret"),
	})
	if !apperr.Is(err, apperr.KindSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if state := loadAppointmentState(t, ctx, appt.ID); state.Status != "pending" || state.PaymentStatus != "pending" {
		t.Errorf("tampered verify changed state to %s/%s", state.Status, state.PaymentStatus)
	}
	if got := paymentStatus(t, ctx, order.OrderID); got != "pending" {
		t.Errorf("tampered verify changed payment to %s", got)
	}

	req := billing.VerifyRequest{
		OrderID:   order.OrderID,
		PaymentID: "pay_integration1",
		Signature: paygateway.Signature(order.OrderID, "pay_integration1", testKeySecret),
	}
	id, err := bill.VerifyPayment(ctx, req)
	if err != nil || id != appt.ID {
		t.Fatalf("verify: id=%s err=%v", id, err)
	}
	state = loadAppointmentState(t, ctx, appt.ID)
	if state.Status != "confirmed" || state.PaymentStatus != "paid" {
		t.Errorf("expected confirmed/paid, got %s/%s", state.Status, state.PaymentStatus)
	}
	if got := paymentStatus(t, ctx, order.OrderID); got != "success" {
		t.Errorf("payment status = %s, want success", got)
	}

	// Replaying the same callback is a no-op.
	if id, err := bill.VerifyPayment(ctx, req); err != nil || id != appt.ID {
		t.Errorf("replay: id=%s err=%v", id, err)
	}
	if _, err := bill.CreateOrder(ctx, patient, appt.ID); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("paid appointment must not get a new order, got %v", err)
	}
}

func TestPaymentRepo_SinglePendingPerAppointment(t *testing.T) {
	ctx := context.Background()
	sched := newSchedulingService(t, ctx)
	appt, patient := bookForPayment(t, ctx, sched, 15)
	repo := billing.NewPaymentRepoPG(globalDB.Pool)

	newPayment := func(orderID string) *billing.Payment {
		return &billing.Payment{
			AppointmentID:   appt.ID,
			UserID:          patient.UserID,
			Amount:          decimal.NewFromInt(700),
			Currency:        paygateway.CurrencyINR,
			RazorpayOrderID: orderID,
			Status:          billing.StatusPending,
		}
	}
	if err := repo.Create(ctx, newPayment("order_pending_1_"+uuid.NewString()[:8])); err != nil {
		t.Fatal(err)
	}
	err := repo.Create(ctx, newPayment("order_pending_2_"+uuid.NewString()[:8]))
	if !errors.Is(err, billing.ErrPendingExists) {
		t.Errorf("expected ErrPendingExists, got %v", err)
	}
}

func TestPayment_VerifyRollsBackWhenAppointmentCannotConfirm(t *testing.T) {
	ctx := context.Background()
	sched := newSchedulingService(t, ctx)
	bill := newBillingService(sched)
	appt, patient := bookForPayment(t, ctx, sched, 16)

	order, err := bill.CreateOrder(ctx, patient, appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	// The patient cancels while checkout is still open.
	if _, err := sched.UpdateStatus(ctx, patient, appt.ID, scheduling.UpdateStatusRequest{Status: scheduling.StatusCancelled}); err != nil {
		t.Fatal(err)
	}

	_, err = bill.VerifyPayment(ctx, billing.VerifyRequest{
		OrderID:   order.OrderID,
		PaymentID: "pay_integration2",
		Signature: paygateway.Signature(order.OrderID, "pay_integration2", testKeySecret),
	})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := paymentStatus(t, ctx, order.OrderID); got != "pending" {
		t.Errorf("payment must stay pending after rollback, got %s", got)
	}
	state := loadAppointmentState(t, ctx, appt.ID)
	if state.Status != "cancelled" || state.PaymentStatus != "pending" {
		t.Errorf("expected cancelled/pending, got %s/%s", state.Status, state.PaymentStatus)
	}
}

func TestPayment_UnknownOrder(t *testing.T) {
	ctx := context.Background()
	bill := newBillingService(newSchedulingService(t, ctx))
	_, err := bill.VerifyPayment(ctx, billing.VerifyRequest{
		OrderID:   "order_missing",
		PaymentID: "pay_missing",
		Signature: paygateway.Signature("order_missing", "pay_missing", testKeySecret),
	})
	if !apperr.Is(err, apperr.KindInternal) {
		t.Errorf("expected internal error for an unknown order, got %v", err)
	}
}
