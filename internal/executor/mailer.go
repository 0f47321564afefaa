package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Attachment is a rendered report file.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is one export email.
type Message struct {
	To         []string
	Subject    string
	Body       string
	Attachment Attachment
}

// Mailer delivers export emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures the SMTP mailer.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	From               string `yaml:"from"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// SMTPMailer sends mail through an SMTP relay. gomail composes and writes the
// message; each send dials its own connection bound to the caller's context.
type SMTPMailer struct {
	cfg       SMTPConfig
	tlsConfig *tls.Config
}

// NewSMTPMailer creates an SMTP mailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	tc := &tls.Config{ServerName: cfg.Host}
	if cfg.InsecureSkipVerify {
		tc.InsecureSkipVerify = true //nolint:gosec // opt-in for test relays
	}
	return &SMTPMailer{cfg: cfg, tlsConfig: tc}
}

// Send delivers msg to all recipients in a single message. When ctx ends the
// connection is closed, so a send that timed out cannot complete later.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := m.send(ctx, m.compose(msg)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("send email: %w", ctxErr)
		}
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (m *SMTPMailer) send(ctx context.Context, gm *gomail.Message) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port)))
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	implicitTLS := m.cfg.Port == 465
	if implicitTLS {
		conn = tls.Client(conn, m.tlsConfig)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if !implicitTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(m.tlsConfig); err != nil {
				return err
			}
		}
	}
	if m.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
				return err
			}
		}
	}

	send := gomail.SendFunc(func(from string, to []string, w io.WriterTo) error {
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}
		wc, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := w.WriteTo(wc); err != nil {
			wc.Close()
			return err
		}
		return wc.Close()
	})
	if err := gomail.Send(send, gm); err != nil {
		return err
	}
	return c.Quit()
}

func (m *SMTPMailer) compose(msg Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.cfg.From)
	gm.SetHeader("To", msg.To...)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)

	att := msg.Attachment
	gm.Attach(att.Filename,
		gomail.SetHeader(map[string][]string{"Content-Type": {att.ContentType}}),
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(att.Data)
			return err
		}),
	)
	return gm
}

// LogMailer logs messages instead of sending them.
type LogMailer struct {
	logger zerolog.Logger
}

// NewLogMailer creates a mailer for dry runs.
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "mailer").Logger()}
}

// Send logs msg.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.Info().
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Str("attachment", msg.Attachment.Filename).
		Int("bytes", len(msg.Attachment.Data)).
		Msg("Dry run, email not sent")
	return nil
}
