package transport

import (
	"net/http"
	"time"

	"github.com/contractr/contractr/internal/config"
	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/pkg/twilio"
)

// FromConfig builds the channel router for the configured mode. Mode "live"
// delivers through SMTP and Twilio; anything else logs.
func FromConfig(cfg config.TransportConfig) *Router {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	r := NewRouter(timeout)

	if cfg.Mode != "live" {
		return r.
			Register(model.ChannelEmail, NewLogSender(cfg.EmailFrom)).
			Register(model.ChannelSMS, NewLogSender(cfg.SMSFrom))
	}

	email := NewEmailSender(SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
	})
	tw := twilio.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken,
		twilio.WithBaseURL(cfg.TwilioBaseURL),
		twilio.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return r.
		Register(model.ChannelEmail, email).
		Register(model.ChannelSMS, NewSMSSender(tw, cfg.SMSFrom))
}
