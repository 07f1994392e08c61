package billing

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/domain/scheduling"
	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/db"
	"github.com/medibook/medibook/internal/platform/notification"
	"github.com/medibook/medibook/internal/platform/paygateway"
)

const orderLockTTL = 30 * time.Second

type Service struct {
	payments PaymentRepository
	appts    Appointments
	tx       db.TxRunner
	gateway  paygateway.OrderCreator
	locker   Locker
	notifier AppointmentNotifier
	secret   string
	logger   zerolog.Logger
	validate *validator.Validate
}

type Deps struct {
	Payments     PaymentRepository
	Appointments Appointments
	Tx           db.TxRunner
	Gateway      paygateway.OrderCreator
	// Locker may be nil, in which case the pending-payment unique index
	// is the only guard against concurrent orders.
	Locker   Locker
	Notifier AppointmentNotifier
	// Secret is the gateway key secret used to verify checkout signatures.
	Secret string
	Logger zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		payments: d.Payments,
		appts:    d.Appointments,
		tx:       d.Tx,
		gateway:  d.Gateway,
		locker:   d.Locker,
		notifier: d.Notifier,
		secret:   d.Secret,
		logger:   d.Logger,
		validate: validator.New(),
	}
}

// CreateOrder opens a gateway order for the caller's appointment. An
// appointment that already has an open order gets that order back.
func (s *Service) CreateOrder(ctx context.Context, caller *auth.Caller, appointmentID uuid.UUID) (*OrderResponse, error) {
	if caller == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	appt, err := s.appts.GetByID(ctx, appointmentID)
	if errors.Is(err, scheduling.ErrAppointmentNotFound) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, apperr.Internal("load appointment", err)
	}
	if appt.PatientID != caller.UserID {
		return nil, apperr.Forbidden("you can only pay for your own appointments")
	}
	if appt.PaymentStatus == scheduling.PaymentPaid {
		return nil, apperr.Validation("appointment is already paid")
	}
	if appt.Status != scheduling.StatusPending {
		return nil, apperr.Validation("appointment is %s and cannot be paid", appt.Status)
	}

	key := "order:" + appointmentID.String()
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, key, orderLockTTL)
		if err != nil {
			return nil, apperr.Unavailable("acquire order lock", err)
		}
		if !ok {
			return nil, apperr.Conflict("a payment for this appointment is already being set up")
		}
		defer func() {
			if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				s.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("release order lock")
			}
		}()
	}

	existing, err := s.payments.GetPendingByAppointment(ctx, appointmentID)
	switch {
	case err == nil:
		return &OrderResponse{
			OrderID:  existing.RazorpayOrderID,
			Amount:   paygateway.ToMinorUnits(existing.Amount),
			Currency: existing.Currency,
			KeyID:    s.gateway.KeyID(),
		}, nil
	case !errors.Is(err, ErrPaymentNotFound):
		return nil, apperr.Internal("load pending payment", err)
	}

	order, err := s.gateway.CreateOrder(ctx, paygateway.ToMinorUnits(appt.Amount), paygateway.CurrencyINR,
		Receipt(appointmentID), map[string]string{
			"appointment_id": appointmentID.String(),
			"patient_id":     caller.UserID.String(),
		})
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", appointmentID.String()).Msg("gateway order creation failed")
		if errors.Is(err, paygateway.ErrGatewayUnavailable) {
			return nil, apperr.Unavailable("create gateway order", err)
		}
		return nil, apperr.Internal("create gateway order", err)
	}

	p := &Payment{
		AppointmentID:   appointmentID,
		UserID:          caller.UserID,
		Amount:          appt.Amount,
		Currency:        order.Currency,
		RazorpayOrderID: order.ID,
		Status:          StatusPending,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.appts.SetOrderID(ctx, appointmentID, order.ID); err != nil {
			return err
		}
		return s.payments.Create(ctx, p)
	})
	switch {
	case errors.Is(err, scheduling.ErrNotPayable):
		return nil, apperr.Wrap(apperr.KindConflict, "appointment can no longer be paid", err)
	case errors.Is(err, ErrPendingExists):
		return nil, apperr.Wrap(apperr.KindConflict, "a payment for this appointment is already open", err)
	case err != nil:
		return nil, apperr.Internal("record order", err)
	}

	s.logger.Info().Str("appointment_id", appointmentID.String()).Str("order_id", order.ID).
		Int64("amount", order.Amount).Msg("payment order created")
	return &OrderResponse{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		KeyID:    s.gateway.KeyID(),
	}, nil
}

// VerifyPayment checks the checkout signature and, when it matches,
// marks the payment successful and the appointment confirmed and paid in
// one transaction. A replay of an already verified callback returns the
// same appointment without touching state.
func (s *Service) VerifyPayment(ctx context.Context, req VerifyRequest) (uuid.UUID, error) {
	if err := s.validate.Struct(req); err != nil {
		return uuid.Nil, apperr.Validation("razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
	}
	if !paygateway.VerifySignature(req.OrderID, req.PaymentID, req.Signature, s.secret) {
		s.logger.Warn().Str("order_id", req.OrderID).Str("payment_id", req.PaymentID).Msg("payment signature mismatch")
		return uuid.Nil, apperr.SignatureInvalid()
	}

	var appointmentID uuid.UUID
	replay := false
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.payments.GetByOrderIDForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if p.Status == StatusSuccess {
			if p.RazorpayPaymentID == nil || *p.RazorpayPaymentID != req.PaymentID {
				return apperr.Conflict("order was already paid by a different payment")
			}
			appointmentID, replay = p.AppointmentID, true
			return nil
		}
		if p.Status != StatusPending {
			return apperr.Conflict("payment is " + string(p.Status))
		}
		if err := s.payments.MarkSuccess(ctx, p.ID, req.PaymentID, req.Signature); err != nil {
			return err
		}
		id, err := s.appts.ConfirmPayment(ctx, req.OrderID, req.PaymentID)
		if errors.Is(err, scheduling.ErrNotPayable) {
			return apperr.Wrap(apperr.KindConflict, "appointment can no longer be confirmed", err)
		}
		if err != nil {
			return err
		}
		appointmentID = id
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", req.OrderID).Str("payment_id", req.PaymentID).Msg("payment verification failed")
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return uuid.Nil, ae
		}
		return uuid.Nil, apperr.Internal("verify payment", err)
	}

	if replay {
		s.logger.Info().Str("order_id", req.OrderID).Msg("payment already verified")
		return appointmentID, nil
	}
	s.logger.Info().Str("order_id", req.OrderID).Str("payment_id", req.PaymentID).
		Str("appointment_id", appointmentID.String()).Msg("payment verified")
	if s.notifier != nil {
		s.notifier.NotifyAppointment(ctx, notification.EventPaymentSuccess, appointmentID,
			notification.Data{PaymentID: req.PaymentID})
	}
	return appointmentID, nil
}

// ListPayments returns the caller's payment attempts, newest first.
func (s *Service) ListPayments(ctx context.Context, caller *auth.Caller, appointmentID *uuid.UUID) ([]*Payment, error) {
	if caller == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	items, err := s.payments.ListByUser(ctx, caller.UserID, appointmentID)
	if err != nil {
		return nil, apperr.Internal("list payments", err)
	}
	if items == nil {
		items = []*Payment{}
	}
	return items, nil
}
