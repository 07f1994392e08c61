package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageAPI is satisfied by the twilio client's Api service.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	WhatsAppFrom string
}

// TwilioSender sends SMS and WhatsApp messages. WhatsApp numbers carry the
// "whatsapp:" prefix on both ends.
type TwilioSender struct {
	api          messageAPI
	fromNumber   string
	whatsAppFrom string
}

func NewTwilioSender(cfg TwilioConfig) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, fromNumber: cfg.FromNumber, whatsAppFrom: cfg.WhatsAppFrom}
}

func (s *TwilioSender) Send(ctx context.Context, channel Channel, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	from := s.fromNumber
	if channel == ChannelWhatsApp {
		if s.whatsAppFrom == "" {
			return errors.New("whatsapp sender number is not configured")
		}
		from = whatsAppAddress(s.whatsAppFrom)
		to = whatsAppAddress(to)
	}
	if from == "" {
		return errors.New("sms sender number is not configured")
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)

	if _, err := s.api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	return nil
}

func whatsAppAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
