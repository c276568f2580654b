package email

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/gomail.v2"

	"MailBlast/internal/models"
)

// Security selects how the relay connection is protected.
type Security int

const (
	SecurityNone Security = iota
	SecurityTLS
	SecuritySSL
)

// ResolveSecurity applies the precedence rule from the submission form:
// SSL wins over TLS, TLS wins over plaintext.
func ResolveSecurity(useTLS, useSSL bool) Security {
	switch {
	case useSSL:
		return SecuritySSL
	case useTLS:
		return SecurityTLS
	default:
		return SecurityNone
	}
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Security Security

	// DialTimeout bounds session establishment, retries included.
	DialTimeout time.Duration
}

type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &Dialer{cfg: cfg}
}

// Dial establishes the single authenticated session a job reuses for every
// send. Establishment is retried with exponential backoff; once the timeout
// elapses the failure is connection-level and the job never starts sending.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	gd := gomail.NewDialer(d.cfg.Host, d.cfg.Port, d.cfg.Username, d.cfg.Password)

	switch d.cfg.Security {
	case SecuritySSL:
		gd.SSL = true
	case SecurityTLS:
		gd.TLSConfig = &tls.Config{ServerName: d.cfg.Host}
	case SecurityNone:
		// plaintext session, relay permitting
	}

	var sc gomail.SendCloser
	operation := func() error {
		var err error
		sc, err = gd.Dial()
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = d.cfg.DialTimeout

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, &TransportError{Level: LevelConnection, Err: err}
	}

	return &Session{sc: sc}, nil
}

// Session is one authenticated relay connection.
type Session struct {
	sc gomail.SendCloser
}

// Send hands one message to the relay. "Sent" means handed off without a
// transport-level error, nothing stronger.
func (s *Session) Send(msg models.Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTMLBody)

	// Send through the SendCloser directly so SMTP reply codes survive for
	// classification.
	if err := s.sc.Send(msg.From, []string{msg.To}, m); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Session) Close() error {
	return s.sc.Close()
}
