package sender

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"eznotify/config"
	"eznotify/internal/model"

	"go.uber.org/zap"
)

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	host     string
	port     int
	from     string
	username string
	password string
	logger   *zap.Logger
}

func NewEmailSender(cfg config.SMTPConfig, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		host:     cfg.Host,
		port:     cfg.Port,
		from:     cfg.From,
		username: cfg.Username,
		password: cfg.Password,
		logger:   logger,
	}
}

// Send connects per message. Volume here is low enough that connection
// reuse is not worth the reconnect bookkeeping.
func (s *EmailSender) Send(ctx context.Context, job model.Job) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	// ctx 的截止时间同样约束后续的 SMTP 往返
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if s.username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", s.username, s.password, s.host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(job.Recipient); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(BuildMessage(s.from, job)); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Debug("SMTP quit failed after delivery",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	return nil
}

// BuildMessage renders the raw RFC 822 message for a job. Content rendering
// belongs to the producer; the payload goes out as the body untouched.
func BuildMessage(from string, job model.Job) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + job.Recipient + "\r\n")
	b.WriteString("Subject: " + SubjectFor(job.Type) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	if len(job.Payload) > 0 {
		b.Write(job.Payload)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// SubjectFor maps a notification kind to its mail subject.
func SubjectFor(t model.JobType) string {
	switch t {
	case model.JobTypeConfirmation:
		return "Your appointment is confirmed"
	case model.JobTypeReminder:
		return "Appointment reminder"
	case model.JobTypeCancellation:
		return "Your appointment was cancelled"
	case model.JobTypeReschedule:
		return "Your appointment was rescheduled"
	default:
		return "Appointment notification"
	}
}
