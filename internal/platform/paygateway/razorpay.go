package paygateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	razorpay "github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog"
)

var (
	// ErrGatewayUnavailable means every attempt failed with a transient
	// error or timed out.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayRejected means the provider refused the request outright.
	ErrGatewayRejected = errors.New("payment gateway rejected request")
)

// Order is a provider-issued order. Amount is in minor units.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// OrderCreator is what the billing service needs from a gateway.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Order, error)
	KeyID() string
}

// orderAPI is satisfied by the razorpay client's Order resource.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Config struct {
	KeyID      string
	KeySecret  string
	Timeout    time.Duration
	MaxRetries int
}

// Razorpay creates orders through razorpay-go. Each attempt is bounded by
// Timeout and transient failures are retried with exponential backoff.
type Razorpay struct {
	orders     orderAPI
	keyID      string
	timeout    time.Duration
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     zerolog.Logger
}

func NewRazorpay(cfg Config, logger zerolog.Logger) *Razorpay {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return newRazorpay(client.Order, cfg, logger)
}

func newRazorpay(orders orderAPI, cfg Config, logger zerolog.Logger) *Razorpay {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Razorpay{
		orders:     orders,
		keyID:      cfg.KeyID,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		logger: logger,
	}
}

// KeyID is the public key the client uses to open checkout.
func (r *Razorpay) KeyID() string { return r.keyID }

func (r *Razorpay) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*Order, error) {
	if amountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrGatewayRejected)
	}
	data := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	var body map[string]interface{}
	attempt := 0
	op := func() error {
		attempt++
		res, err := r.createOnce(ctx, data)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrGatewayRejected, err))
		}
		body = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).
			Str("receipt", receipt).Msg("create order failed, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.maxRetries)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if errors.Is(err, ErrGatewayRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return parseOrder(body)
}

// createOnce runs one provider call. The client has no context support, so
// a timed-out call is abandoned rather than cancelled.
func (r *Razorpay) createOnce(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		body map[string]interface{}
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		body, err := r.orders.Create(data, nil)
		ch <- result{body, err}
	}()

	select {
	case res := <-ch:
		return res.body, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func parseOrder(body map[string]interface{}) (*Order, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("%w: response has no order id", ErrGatewayRejected)
	}
	o := &Order{ID: id}
	o.Currency, _ = body["currency"].(string)
	o.Receipt, _ = body["receipt"].(string)
	o.Status, _ = body["status"].(string)
	switch v := body["amount"].(type) {
	case float64:
		o.Amount = int64(v)
	case int64:
		o.Amount = v
	case int:
		o.Amount = int64(v)
	}
	return o, nil
}
