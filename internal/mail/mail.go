package mail

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	appLog "calshift/internal/log"
)

// Message is one outbound email to a single recipient.
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// Mailer delivers messages. Implementations must not retry.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryError reports a message the relay did not accept.
type DeliveryError struct {
	To      string
	Subject string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %q to %s: %v", e.Subject, e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// SMTPConfig holds the relay account.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// sender is the part of *gomail.Client used here.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPMailer submits messages to an authenticated relay over STARTTLS.
type SMTPMailer struct {
	from   string
	client sender
}

// NewSMTPMailer configures the relay client. No connection is made until Send.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := gomail.NewClient(cfg.Host,
		gomail.WithPort(cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Username),
		gomail.WithPassword(cfg.Password),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
		gomail.WithTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("configure smtp client: %w", err)
	}

	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPMailer{from: from, client: client}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	gm, err := buildMsg(m.from, msg)
	if err != nil {
		return &DeliveryError{To: msg.To, Subject: msg.Subject, Err: err}
	}

	if err := m.client.DialAndSendWithContext(ctx, gm); err != nil {
		return &DeliveryError{To: msg.To, Subject: msg.Subject, Err: err}
	}

	appLog.Info("mail sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

func buildMsg(from string, msg Message) (*gomail.Msg, error) {
	gm := gomail.NewMsg()
	if err := gm.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := gm.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	gm.Subject(msg.Subject)
	gm.SetDate()
	gm.SetMessageID()

	contentType := gomail.TypeTextPlain
	if msg.HTML {
		contentType = gomail.TypeTextHTML
	}
	gm.SetBodyString(contentType, msg.Body)

	return gm, nil
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	appLog.Info("dry run: mail not sent", "to", msg.To, "subject", msg.Subject, "html", msg.HTML)
	appLog.Debug("dry run: mail body", "body", msg.Body)
	return nil
}
