package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/wneessen/go-mail"
)

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	SSL      bool
}

// Mailer delivers notices over SMTP.
type Mailer struct {
	client *mail.Client
	from   string
}

func NewMailer(cfg MailConfig) (*Mailer, error) {
	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithPort(cfg.Port),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	}
	if cfg.SSL {
		opts = append(opts, mail.WithSSL())
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, err
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Mailer{client: client, from: from}, nil
}

func (m *Mailer) Notify(ctx context.Context, n Notice) error {
	msg, err := m.Compose(n)
	if err != nil {
		return err
	}
	return m.client.DialAndSendWithContext(ctx, msg)
}

// Compose builds the message for n without sending it.
func (m *Mailer) Compose(n Notice) (*mail.Msg, error) {
	subject, body, err := Render(n)
	if err != nil {
		return nil, err
	}
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := msg.To(n.To); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (m *Mailer) Close() error { return m.client.Close() }

// =============================================================================
// TEMPLATES
// =============================================================================

var subjects = map[Kind]string{
	KindBlockAssigned:        "Vacaciones - bloque de reservación asignado",
	KindReservationConfirmed: "Vacaciones - reservación confirmada",
	KindEscalated:            "Vacaciones - reservación pendiente movida a bloque cola",
	KindUrgentAction:         "Vacaciones - acción urgente requerida",
}

var bodies = template.Must(template.New("notice").Parse(`
{{define "block_assigned"}}You have been placed in reservation block {{.Data.blockNumber}} (position {{.Data.position}}).
The window opens {{.Data.windowStart}} and closes {{.Data.windowEnd}}.
Days to choose: {{.Data.remaining}}.{{end}}
{{define "reservation_confirmed"}}Your vacation days are confirmed: {{.Data.dates}}.{{end}}
{{define "escalated"}}{{if .Data.employeeName}}{{.Data.employeeName}} did not reserve in time{{else}}No reservation was made in time{{end}}; the reservation moved to the overflow block.
The overflow window closes {{.Data.windowEnd}}.{{end}}
{{define "urgent_action"}}{{.Data.employeeName}} still has no vacation days reserved after the overflow block closed.
Manual assignment is required.{{end}}
`))

// Render returns the subject and plain-text body for a notice.
func Render(n Notice) (subject, body string, err error) {
	subject, ok := subjects[n.Kind]
	if !ok {
		return "", "", fmt.Errorf("unsupported notice type %q", n.Kind)
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	var buf bytes.Buffer
	if err := bodies.ExecuteTemplate(&buf, string(n.Kind), n); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}
