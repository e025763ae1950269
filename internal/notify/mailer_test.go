package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/hortus-cognitor/backend/pkg/queue"
)

type recordingDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *recordingDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func newTestMailer(t *testing.T, d Dialer) *Mailer {
	t.Helper()
	m, err := NewMailerWithDialer(d, "Hortus Cognitor", "noreply@example.com", nil)
	require.NoError(t, err)
	return m
}

func TestMailer_RendersEveryTemplate(t *testing.T) {
	m := newTestMailer(t, &recordingDialer{})
	data := map[string]any{
		"Name": "Ada", "CourseTitle": "Soil & Spirit", "AmountDue": "£112.50", "Deadline": "1 June 2026",
		"DueIn": "3 days", "DepositPaid": "£112.50", "Total": "£225.00", "StartDate": "8 June 2026",
		"SessionNumber": 1, "SessionDate": "8 June 2026", "StartTime": "10:00", "EndTime": "12:00",
		"Tier": "Standard", "AmountPaid": "£112.50", "Email": "ada@example.com", "Message": "hello",
	}
	for _, name := range []string{
		TemplatePaymentReminder, TemplateCourseDetails, TemplateSessionReminder,
		TemplateCourseConfirmed, TemplateAdminBooking, TemplateContactSubmission,
	} {
		body, err := m.Render(name, data)
		require.NoError(t, err, name)
		assert.Contains(t, body, "Ada", name)
	}
}

func TestMailer_EscapesData(t *testing.T) {
	m := newTestMailer(t, &recordingDialer{})
	body, err := m.Render(TemplateContactSubmission, map[string]any{"Name": "x", "Email": "e", "Message": "<script>alert(1)</script>"})
	require.NoError(t, err)
	assert.False(t, strings.Contains(body, "<script>"))
}

func TestMailer_Send(t *testing.T) {
	d := &recordingDialer{}
	m := newTestMailer(t, d)

	err := m.Send(context.Background(), Message{
		Template: TemplateSessionReminder,
		Subject:  "Session tomorrow",
		To:       []string{"ada@example.com"},
		Data:     map[string]any{"Name": "Ada", "CourseTitle": "Soil", "SessionNumber": 2, "SessionDate": "d", "StartTime": "10:00", "EndTime": "12:00"},
	})
	require.NoError(t, err)
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"ada@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Session tomorrow"}, d.sent[0].GetHeader("Subject"))
}

func TestMailer_SendErrors(t *testing.T) {
	m := newTestMailer(t, &recordingDialer{err: errors.New("connection refused")})

	err := m.Send(context.Background(), Message{Template: TemplateContactSubmission, To: []string{"a@example.com"}, Data: map[string]any{}})
	assert.ErrorContains(t, err, "connection refused")

	err = m.Send(context.Background(), Message{Template: TemplateContactSubmission})
	assert.ErrorIs(t, err, ErrNoRecipients)

	err = m.Send(context.Background(), Message{Template: "missing", To: []string{"a@example.com"}})
	assert.Error(t, err)
}

type memQueue struct{ payloads []queue.EmailPayload }

func (q *memQueue) EnqueueEmail(_ context.Context, p queue.EmailPayload) error {
	q.payloads = append(q.payloads, p)
	return nil
}

func TestQueueSink(t *testing.T) {
	q := &memQueue{}
	s := NewQueueSink(q, nil)

	require.NoError(t, s.Send(context.Background(), Message{Template: TemplateCourseConfirmed, Subject: "s", To: []string{"a@example.com"}}))
	require.Len(t, q.payloads, 1)
	assert.Equal(t, TemplateCourseConfirmed, FromPayload(q.payloads[0]).Template)

	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrNoRecipients)
}
