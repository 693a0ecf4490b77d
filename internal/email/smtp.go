package email

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/referral-api/pkg/circuitbreaker"
)

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	// Bodies maps a template id to a text/template body rendered with the merge vars.
	Bodies map[string]string
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPDispatcher renders campaign templates and delivers them over SMTP.
type SMTPDispatcher struct {
	dialer    sender
	from      string
	templates map[string]*template.Template
	cb        *circuitbreaker.CircuitBreaker
	logger    *zerolog.Logger
}

func NewSMTPDispatcher(cfg SMTPConfig, logger *zerolog.Logger) (*SMTPDispatcher, error) {
	templates := make(map[string]*template.Template, len(cfg.Bodies))
	for id, body := range cfg.Bodies {
		tmpl, err := template.New(id).Option("missingkey=zero").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse email template %s: %w", id, err)
		}
		templates[id] = tmpl
	}

	return &SMTPDispatcher{
		dialer:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:      cfg.From,
		templates: templates,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "smtp",
			MaxFailures: 5,
			Timeout:     time.Minute,
		}),
		logger: logger,
	}, nil
}

func (d *SMTPDispatcher) Send(ctx context.Context, msg *Message) (string, error) {
	tmpl, ok := d.templates[msg.TemplateID]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", msg.TemplateID)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, msg.MergeVars); err != nil {
		return "", fmt.Errorf("failed to render email template %s: %w", msg.TemplateID, err)
	}

	id := uuid.NewString()
	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@referral-api>", id))
	m.SetHeader("X-Template-ID", msg.TemplateID)
	m.SetBody("text/plain", body.String())

	if err := ctx.Err(); err != nil {
		return "", err
	}
	err := d.cb.Execute(func() error {
		return d.dialer.DialAndSend(m)
	})
	if err != nil {
		d.logger.Error().Err(err).Str("to", msg.To).Str("template", msg.TemplateID).Msg("smtp send failed")
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return id, nil
}
