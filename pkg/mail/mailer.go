package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// ErrSMTPDisabled is returned by Send when delivery is switched off.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// Message is one outbound email. From falls back to the configured sender.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer sends email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSettings configures the SMTP mailer.
type SMTPSettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

// session is the SMTP conversation after connect and auth. Tests substitute
// their own implementation through the connect seam.
type session interface {
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

type sender struct {
	cfg     SMTPSettings
	connect func(ctx context.Context) (session, error)
}

// NewSMTPMailer validates the settings and returns a mailer. A disabled
// configuration is valid; its Send reports ErrSMTPDisabled.
func NewSMTPMailer(cfg SMTPSettings) (Mailer, error) {
	if cfg.Enabled {
		if strings.TrimSpace(cfg.Host) == "" {
			return nil, errors.New("smtp: host is required when enabled")
		}
		if cfg.Port == 0 {
			return nil, errors.New("smtp: port is required when enabled")
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	s := &sender{cfg: cfg}
	s.connect = s.dial
	return s, nil
}

func (s *sender) Send(ctx context.Context, msg Message) error {
	if !s.cfg.Enabled {
		return ErrSMTPDisabled
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = strings.TrimSpace(s.cfg.From)
	}
	if from == "" {
		return errors.New("smtp: sender address is required")
	}
	if _, err := mail.ParseAddress(from); err != nil {
		return fmt.Errorf("smtp: invalid from address: %w", err)
	}

	recipients, err := checkRecipients(msg.To)
	if err != nil {
		return err
	}

	conv, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer conv.Close()

	if err := conv.Mail(from); err != nil {
		return fmt.Errorf("smtp: mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := conv.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp: rcpt to %s: %w", rcpt, err)
		}
	}

	body, err := conv.Data()
	if err != nil {
		return fmt.Errorf("smtp: data command: %w", err)
	}
	if _, err := body.Write(buildEnvelope(from, recipients, msg.Subject, msg.Body)); err != nil {
		_ = body.Close()
		return fmt.Errorf("smtp: write body: %w", err)
	}
	if err := body.Close(); err != nil {
		return fmt.Errorf("smtp: close data writer: %w", err)
	}

	return conv.Quit()
}

// checkRecipients trims, deduplicates and syntax-checks the recipient list.
func checkRecipients(addresses []string) ([]string, error) {
	seen := make(map[string]struct{}, len(addresses))
	recipients := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		if _, err := mail.ParseAddress(addr); err != nil {
			return nil, fmt.Errorf("smtp: invalid recipient address %q: %w", addr, err)
		}
		seen[addr] = struct{}{}
		recipients = append(recipients, addr)
	}
	if len(recipients) == 0 {
		return nil, errors.New("smtp: at least one recipient is required")
	}
	return recipients, nil
}

// dial opens the connection, upgrades to TLS when offered, and authenticates.
func (s *sender) dial(ctx context.Context) (session, error) {
	address := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.UseTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp: dial %s: %w", address, err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("smtp: new client: %w", err)
	}

	if !s.cfg.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("smtp: start tls: %w", err)
			}
		}
	}

	if strings.TrimSpace(s.cfg.Username) != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp: auth: %w", err)
		}
	}

	return client, nil
}

// buildEnvelope assembles the RFC 5322 message: header block, blank line, body.
func buildEnvelope(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.Grow(len(body) + 256)

	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		// Header values must stay on one line.
		b.WriteString(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
		b.WriteString("\r\n")
	}

	writeHeader("From", from)
	writeHeader("To", strings.Join(to, ", "))
	writeHeader("Subject", subject)
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(body)

	return []byte(b.String())
}
