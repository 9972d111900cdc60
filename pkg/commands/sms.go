package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MessageCreator is the part of the Twilio API an SMS command needs.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSConfig holds the defaults for an SMS command. Request params "to"
// and "body" override them per call.
type SMSConfig struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to"   json:"to"`
	Body string `yaml:"body" json:"body"`
}

// SMSCommand sends a text message through Twilio.
type SMSCommand struct {
	name   string
	cfg    SMSConfig
	client MessageCreator
}

// NewTwilioMessageCreator builds the live Twilio REST client.
func NewTwilioMessageCreator(accountSID, authToken string) (MessageCreator, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("account SID and auth token must be provided")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return client.Api, nil
}

// NewSMSCommand creates an SMS command using client.
func NewSMSCommand(name string, cfg SMSConfig, client MessageCreator) *SMSCommand {
	return &SMSCommand{name: name, cfg: cfg, client: client}
}

func (c *SMSCommand) Execute(ctx context.Context, req Request) (*Response, error) {
	to := firstNonEmpty(req.Params["to"], c.cfg.To)
	body := firstNonEmpty(req.Params["body"], c.cfg.Body)
	if to == "" || body == "" {
		return nil, &TransientCommandError{Command: c.name, Err: errors.New("sms needs a recipient and a body")}
	}
	if c.client == nil {
		return nil, &TransientCommandError{Command: c.name, Err: errors.New("sms client not configured")}
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.cfg.From)
	params.SetBody(body)

	msg, err := c.client.CreateMessage(params)
	if err != nil {
		slog.ErrorContext(ctx, "sms send failed", slog.String("command", c.name), slog.String("error", err.Error()))
		return nil, &TransientCommandError{Command: c.name, Err: fmt.Errorf("send sms to %s: %w", to, err)}
	}

	out := &Response{Variables: map[string]string{"sms_to": to}}
	if msg != nil && msg.Sid != nil {
		out.Variables["sms_sid"] = *msg.Sid
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
