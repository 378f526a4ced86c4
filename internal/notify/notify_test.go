package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type stubEmail struct {
	err   error
	calls int
}

func (s *stubEmail) Send(_ context.Context, _, _, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "msg-123", nil
}

func (s *stubEmail) ProviderID() string { return "smtp" }

type stubSMS struct {
	err error
}

func (s *stubSMS) Send(_ context.Context, _, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "sms-456", nil
}

func (s *stubSMS) ProviderID() string { return "sms-webhook" }

type memRecords struct {
	rows []Record
}

func (m *memRecords) Append(_ context.Context, rec Record) error {
	m.rows = append(m.rows, rec)
	return nil
}

func newTestService(email *stubEmail, sms *stubSMS, records *memRecords) *Service {
	svc := NewService(email, sms, records, slog.Default())
	svc.SetClock(func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) })
	return svc
}

func TestSendEmail_RecordsSentAttempt(t *testing.T) {
	records := &memRecords{}
	svc := newTestService(&stubEmail{}, &stubSMS{}, records)

	id, err := svc.SendEmail(context.Background(), "a@b.test", "Reminder", "<p>hi</p>", map[string]string{
		"purpose":   "reminder",
		"entity_id": "appt-1",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "msg-123" {
		t.Fatalf("unexpected message id %q", id)
	}
	if len(records.rows) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records.rows))
	}
	rec := records.rows[0]
	if rec.Status != "sent" || rec.Channel != "email" || rec.Purpose != "reminder" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.MessageID != "msg-123" {
		t.Fatalf("record missing provider message id: %+v", rec)
	}
}

func TestSendEmail_ProviderRejection(t *testing.T) {
	records := &memRecords{}
	svc := newTestService(&stubEmail{err: errors.New("550 relay denied")}, &stubSMS{}, records)

	_, err := svc.SendEmail(context.Background(), "a@b.test", "Reminder", "", nil)
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Provider != "smtp" || pe.Channel != "email" {
		t.Fatalf("unexpected provider error: %+v", pe)
	}
	if len(records.rows) != 1 || records.rows[0].Status != "failed" {
		t.Fatalf("failed attempt must still be recorded: %+v", records.rows)
	}
}

func TestSendSMS_RecordsOutcome(t *testing.T) {
	records := &memRecords{}
	svc := newTestService(&stubEmail{}, &stubSMS{}, records)

	id, err := svc.SendSMS(context.Background(), "+15550001", "see you tomorrow", map[string]string{"purpose": "reminder"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "sms-456" {
		t.Fatalf("unexpected message id %q", id)
	}
	if records.rows[0].Content != "see you tomorrow" {
		t.Fatalf("sms content not recorded: %+v", records.rows[0])
	}

	svcFail := newTestService(&stubEmail{}, &stubSMS{err: errors.New("provider down")}, records)
	if _, err := svcFail.SendSMS(context.Background(), "+15550001", "x", nil); err == nil {
		t.Fatal("expected error from rejected sms")
	}
	if records.rows[len(records.rows)-1].Status != "failed" {
		t.Fatal("rejected sms must append a failed record")
	}
}
