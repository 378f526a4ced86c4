// Package notify is the engine-facing contract of the notification
// dispatcher. Delivery is a best-effort side effect: callers retry
// ProviderError per their own policy and never surface it to booking
// requests.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ProviderError reports a rejected delivery attempt. It is the only
// error kind dispatch returns for provider-side failures.
type ProviderError struct {
	Provider string
	Channel  string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s delivery failed: %v", e.Provider, e.Channel, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Dispatcher sends messages and logs the outcome of every attempt.
type Dispatcher interface {
	SendEmail(ctx context.Context, to, subject, html string, meta map[string]string) (messageID string, err error)
	SendSMS(ctx context.Context, to, body string, meta map[string]string) (messageID string, err error)
}

// Record is one appended delivery-log row. Status moves
// pending -> sent/failed within a single dispatch attempt.
type Record struct {
	Recipient string
	Channel   string
	Purpose   string
	Content   string
	Status    string
	MessageID string
	CompanyID string
	EntityID  string
	SentAt    time.Time
}

// RecordStore appends delivery records. The log is append-only.
type RecordStore interface {
	Append(ctx context.Context, rec Record) error
}

// EmailSender is a channel backend returning a provider message id.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) (string, error)
	ProviderID() string
}

// SMSSender mirrors EmailSender for the SMS channel.
type SMSSender interface {
	Send(ctx context.Context, to, body string) (string, error)
	ProviderID() string
}

// Service is the production Dispatcher: it delegates to the channel
// backends and appends one Record per attempt, success or failure.
type Service struct {
	email   EmailSender
	sms     SMSSender
	records RecordStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(email EmailSender, sms SMSSender, records RecordStore, logger *slog.Logger) *Service {
	return &Service{
		email:   email,
		sms:     sms,
		records: records,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SendEmail(ctx context.Context, to, subject, html string, meta map[string]string) (string, error) {
	id, err := s.email.Send(ctx, to, subject, html)
	s.log(ctx, Record{
		Recipient: to,
		Channel:   "email",
		Purpose:   meta["purpose"],
		Content:   subject,
		MessageID: id,
		CompanyID: meta["company_id"],
		EntityID:  meta["entity_id"],
	}, err)
	if err != nil {
		return "", &ProviderError{Provider: s.email.ProviderID(), Channel: "email", Err: err}
	}
	return id, nil
}

func (s *Service) SendSMS(ctx context.Context, to, body string, meta map[string]string) (string, error) {
	id, err := s.sms.Send(ctx, to, body)
	s.log(ctx, Record{
		Recipient: to,
		Channel:   "sms",
		Purpose:   meta["purpose"],
		Content:   body,
		MessageID: id,
		CompanyID: meta["company_id"],
		EntityID:  meta["entity_id"],
	}, err)
	if err != nil {
		return "", &ProviderError{Provider: s.sms.ProviderID(), Channel: "sms", Err: err}
	}
	return id, nil
}

func (s *Service) log(ctx context.Context, rec Record, sendErr error) {
	rec.SentAt = s.now()
	rec.Status = "sent"
	if sendErr != nil {
		rec.Status = "failed"
	}
	if err := s.records.Append(ctx, rec); err != nil {
		// The delivery log must never mask the delivery outcome.
		s.logger.Error("failed to append notification record", "err", err, "recipient", rec.Recipient)
	}
}

// SetClock overrides the record timestamp source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
