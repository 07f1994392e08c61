package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Message is one rendered notification on its way to a recipient.
type Message struct {
	ID        string    `json:"id"`
	Event     Event     `json:"event"`
	Channel   Channel   `json:"channel"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier is what domain services depend on.
type Notifier interface {
	Dispatch(ctx context.Context, event Event, to string, data Data)
}

// Transport hands a rendered message on, either straight to a Sender or
// onto a queue.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// Sender talks to the messaging provider.
type Sender interface {
	Send(ctx context.Context, channel Channel, to, body string) error
}

// Dispatcher renders templates and delivers them. Dispatch never fails from
// the caller's point of view. With Async set, delivery runs in the
// background and Wait blocks until in-flight deliveries finish.
type Dispatcher struct {
	transport Transport
	channel   Channel
	logger    zerolog.Logger
	now       func() time.Time

	Async bool
	wg    sync.WaitGroup
}

func NewDispatcher(transport Transport, channel Channel, logger zerolog.Logger) *Dispatcher {
	if !channel.Valid() {
		channel = ChannelWhatsApp
	}
	return &Dispatcher{transport: transport, channel: channel, logger: logger, now: time.Now}
}

// Wait blocks until every background delivery has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event, to string, data Data) {
	log := d.logger.With().Str("event", string(event)).Str("appointment_id", data.AppointmentID).Logger()

	to = strings.TrimSpace(to)
	if to == "" {
		log.Debug().Msg("notification skipped: recipient has no phone number")
		return
	}
	body, ok := Render(event, data)
	if !ok {
		log.Warn().Msg("notification dropped: unknown event")
		return
	}

	msg := Message{
		ID:        uuid.NewString(),
		Event:     event,
		Channel:   d.channel,
		To:        to,
		Body:      body,
		CreatedAt: d.now().UTC(),
	}
	if !d.Async {
		d.deliver(ctx, msg, log)
		return
	}
	// The request context ends with the response; delivery must outlive it.
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(bg, msg, log)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message, log zerolog.Logger) {
	if err := d.transport.Deliver(ctx, msg); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("notification delivery failed")
		return
	}
	log.Info().Str("message_id", msg.ID).Msg("notification dispatched")
}

// NopNotifier drops everything. Useful where notifications are irrelevant.
type NopNotifier struct{}

func (NopNotifier) Dispatch(context.Context, Event, string, Data) {}

// DirectTransport sends synchronously through a Sender, retrying
// transient failures a bounded number of times.
type DirectTransport struct {
	sender     Sender
	maxRetries int
	timeout    time.Duration
	newBackOff func() backoff.BackOff
}

func NewDirectTransport(sender Sender, maxRetries int, timeout time.Duration) *DirectTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DirectTransport{
		sender:     sender,
		maxRetries: maxRetries,
		timeout:    timeout,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
}

func (t *DirectTransport) Deliver(ctx context.Context, msg Message) error {
	return sendWithRetry(ctx, t.sender, msg, t.maxRetries, t.timeout, t.newBackOff())
}

func sendWithRetry(ctx context.Context, sender Sender, msg Message, maxRetries int, timeout time.Duration, b backoff.BackOff) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return sender.Send(callCtx, msg.Channel, msg.To, msg.Body)
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx))
}

// LogSender writes messages to the log instead of sending them. It stands
// in for the provider when no credentials are configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(_ context.Context, channel Channel, to, body string) error {
	s.Logger.Info().Str("channel", string(channel)).Str("to", to).Str("body", body).Msg("notification (not sent)")
	return nil
}
