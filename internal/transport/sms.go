package transport

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/contractr/contractr/pkg/twilio"
)

// SMSSender delivers text messages through Twilio.
type SMSSender struct {
	client twilio.Client
	from   string
}

// NewSMSSender creates a Twilio-backed sender.
func NewSMSSender(client twilio.Client, from string) *SMSSender {
	return &SMSSender{client: client, from: from}
}

func (s *SMSSender) Send(ctx context.Context, msg Outbound) (Receipt, error) {
	res, err := s.client.SendSMS(ctx, s.from, toE164(msg.To), msg.Body)
	if err != nil {
		return Receipt{}, eris.Wrap(err, "transport: sms send")
	}
	zap.L().Info("transport: sms sent",
		zap.String("thread_id", msg.ThreadID),
		zap.String("sid", res.SID),
		zap.String("status", res.Status),
	)
	return Receipt{From: s.from, ExternalID: res.SID}, nil
}

// toE164 turns a 10-digit US number into +1XXXXXXXXXX; other values pass
// through with formatting stripped.
func toE164(v string) string {
	digits := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] >= '0' && v[i] <= '9' {
			digits = append(digits, v[i])
		}
	}
	switch {
	case len(digits) == 10:
		return "+1" + string(digits)
	case len(digits) > 10:
		return "+" + string(digits)
	}
	return v
}
