package transport

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender delivers plain-text email through an SMTP relay.
type EmailSender struct {
	cfg      SMTPConfig
	auth     smtp.Auth
	addr     string
	sendMail sendMailFunc
	now      func() time.Time
}

// NewEmailSender creates an SMTP sender.
func NewEmailSender(cfg SMTPConfig) *EmailSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailSender{
		cfg:      cfg,
		auth:     auth,
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

func (s *EmailSender) Send(ctx context.Context, msg Outbound) (Receipt, error) {
	msgID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(s.cfg.From))
	raw := buildMessage(s.cfg.From, msg.To, msg.Subject, msg.Body, msgID, s.now())

	// net/smtp has no context support; the send runs to completion in the
	// background if ctx ends first.
	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(s.addr, s.auth, s.cfg.From, []string{msg.To}, raw)
	}()

	select {
	case <-ctx.Done():
		return Receipt{}, eris.Wrap(ctx.Err(), "transport: smtp send")
	case err := <-done:
		if err != nil {
			return Receipt{}, eris.Wrap(err, "transport: smtp send")
		}
	}

	zap.L().Info("transport: email sent",
		zap.String("thread_id", msg.ThreadID),
		zap.String("message_id", msgID),
	)
	return Receipt{From: s.cfg.From, ExternalID: msgID}, nil
}

func buildMessage(from, to, subject, body, msgID string, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: " + msgID + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func domainOf(addr string) string {
	if _, d, ok := strings.Cut(addr, "@"); ok && d != "" {
		return strings.Trim(d, "> ")
	}
	return "localhost"
}
