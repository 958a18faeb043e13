package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (p SendEmailPayload) validate() error {
	if strings.TrimSpace(p.To) == "" {
		return errors.New("recipient required")
	}
	if _, err := mail.ParseAddress(p.To); err != nil {
		return fmt.Errorf("recipient %q: %w", p.To, err)
	}
	if strings.TrimSpace(p.Subject) == "" {
		return errors.New("subject required")
	}
	return nil
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// Sender delivers one message. SMTPSender is the production implementation.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewSendEmailHandler processes TaskTypeSendEmail tasks. Malformed payloads
// are not retried; delivery errors are, per the task's retry policy.
func NewSendEmailHandler(sender Sender, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Warn("drop malformed email task", slog.Any("error", err))
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if err := payload.validate(); err != nil {
			logger.Warn("drop invalid email task", slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err := sender.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
			return fmt.Errorf("send email to %s: %w", payload.To, err)
		}
		logger.Debug("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
		return nil
	}
}
