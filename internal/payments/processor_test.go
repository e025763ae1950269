package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hortus-cognitor/backend/internal/events"
	"github.com/hortus-cognitor/backend/internal/metrics"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/internal/notify"
)

type memState struct {
	payments map[uuid.UUID]models.CoursePayment
	records  map[string]models.PaymentRecord
	events   map[string]bool
	bookings map[uuid.UUID]string
	outbox   []events.PaymentEvent
}

func (s memState) clone() memState {
	c := memState{
		payments: map[uuid.UUID]models.CoursePayment{},
		records:  map[string]models.PaymentRecord{},
		events:   map[string]bool{},
		bookings: map[uuid.UUID]string{},
		outbox:   append([]events.PaymentEvent(nil), s.outbox...),
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	return c
}

// memStore applies a transaction to a copy of its state and keeps the copy only on success.
type memStore struct {
	state  memState
	failOn string
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		payments: map[uuid.UUID]models.CoursePayment{},
		records:  map[string]models.PaymentRecord{},
		events:   map[string]bool{},
		bookings: map[uuid.UUID]string{},
	}}
}

func (s *memStore) add(p models.CoursePayment) models.CoursePayment {
	p.ID = uuid.New()
	p.BookingID = uuid.New()
	s.state.payments[p.ID] = p
	s.state.bookings[p.BookingID] = models.BookingStatusPending
	return p
}

func (s *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	work := s.state.clone()
	if err := fn(&memTx{st: &work, failOn: s.failOn}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *memStore) Summary(_ context.Context, id uuid.UUID) (*PaymentSummary, error) {
	p, ok := s.state.payments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &PaymentSummary{
		Payment:     p,
		Booking:     models.Booking{ID: p.BookingID, FullName: "Ada Lovelace", Email: "ada@example.com"},
		CourseTitle: "Soil & Spirit",
		CourseStart: time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC),
		Tier:        models.TierStandard,
		Plan:        models.PaymentPlan{FinalPaymentDeadline: time.Date(2026, 11, 10, 0, 0, 0, 0, time.UTC)},
	}, nil
}

var errInjected = errors.New("injected failure")

type memTx struct {
	st     *memState
	failOn string
}

func (t *memTx) fail(op string) error {
	if t.failOn == op {
		return errInjected
	}
	return nil
}

func (t *memTx) RecordEvent(_ context.Context, provider, eventID, _ string, _ []byte) (bool, error) {
	key := provider + "/" + eventID
	if t.st.events[key] {
		return false, nil
	}
	t.st.events[key] = false
	return true, nil
}

func (t *memTx) MarkEventProcessed(_ context.Context, provider, eventID string) error {
	t.st.events[provider+"/"+eventID] = true
	return nil
}

func (t *memTx) RecordExists(_ context.Context, txnID string) (bool, error) {
	_, ok := t.st.records[txnID]
	return ok, nil
}

func (t *memTx) LockPayment(_ context.Context, ref string, id *uuid.UUID) (*models.CoursePayment, error) {
	for _, p := range t.st.payments {
		if p.ExternalPaymentRef != "" && p.ExternalPaymentRef == ref {
			return &p, nil
		}
	}
	if id != nil {
		if p, ok := t.st.payments[*id]; ok {
			return &p, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (t *memTx) InsertRecord(_ context.Context, rec *models.PaymentRecord) (bool, error) {
	if _, ok := t.st.records[rec.ExternalTxnID]; ok {
		return false, nil
	}
	rec.ID = uuid.New()
	t.st.records[rec.ExternalTxnID] = *rec
	return true, nil
}

func (t *memTx) SavePayment(_ context.Context, p *models.CoursePayment) error {
	if err := t.fail("save"); err != nil {
		return err
	}
	t.st.payments[p.ID] = *p
	return nil
}

func (t *memTx) ConfirmBooking(_ context.Context, bookingID uuid.UUID) error {
	t.st.bookings[bookingID] = models.BookingStatusConfirmed
	return nil
}

func (t *memTx) WriteOutbox(_ context.Context, ev events.PaymentEvent) error {
	if err := t.fail("outbox"); err != nil {
		return err
	}
	t.st.outbox = append(t.st.outbox, ev)
	return nil
}

type memSink struct{ sent []notify.Message }

func (s *memSink) Send(_ context.Context, m notify.Message) error {
	s.sent = append(s.sent, m)
	return nil
}

var fixedNow = time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)

func newProcessor(store *memStore) (*Processor, *memSink, *metrics.Metrics) {
	sink := &memSink{}
	m := metrics.New()
	p := NewProcessor(store, sink, []string{"staff@example.com"}, m, nil)
	p.now = func() time.Time { return fixedNow }
	return p, sink, m
}

func installment() models.CoursePayment {
	return models.CoursePayment{
		Status:        models.PaymentStatusPending,
		TotalAmount:   decimal.NewFromInt(225),
		DepositAmount: decimal.RequireFromString("112.50"),
		FinalAmount:   decimal.RequireFromString("112.50"),
	}
}

func confirm(id uuid.UUID, eventID, txn string) Confirmation {
	return Confirmation{Provider: models.PaymentProviderStripe, EventID: eventID, EventType: "payment_intent.succeeded",
		TxnID: txn, CoursePaymentID: &id, Amount: decimal.RequireFromString("112.50"), Currency: "gbp"}
}

func TestApplySucceeded_DepositThenFinal(t *testing.T) {
	store := newMemStore()
	p := store.add(installment())
	proc, sink, m := newProcessor(store)
	ctx := context.Background()

	out, err := proc.ApplySucceeded(ctx, confirm(p.ID, "evt_1", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	got := store.state.payments[p.ID]
	assert.Equal(t, models.PaymentStatusDepositPaid, got.Status)
	require.NotNil(t, got.DepositPaidAt)
	assert.Equal(t, fixedNow, *got.DepositPaidAt)
	assert.Nil(t, got.FinalPaidAt)
	assert.Equal(t, "pi_1", got.ExternalPaymentRef)
	assert.Equal(t, models.BookingStatusConfirmed, store.state.bookings[p.BookingID])
	assert.Equal(t, models.PaymentTypeDeposit, store.state.records["pi_1"].PaymentType)
	require.Len(t, store.state.outbox, 1)
	assert.Equal(t, events.TypeDepositPaid, store.state.outbox[0].Type)
	assert.True(t, store.state.events["stripe/evt_1"], "event marked processed")

	require.Len(t, sink.sent, 2)
	assert.Equal(t, notify.TemplateCourseConfirmed, sink.sent[0].Template)
	assert.Equal(t, []string{"ada@example.com"}, sink.sent[0].To)
	assert.Equal(t, "£112.50", sink.sent[0].Data["Remaining"])
	assert.Equal(t, notify.TemplateAdminBooking, sink.sent[1].Template)

	out, err = proc.ApplySucceeded(ctx, Confirmation{Provider: models.PaymentProviderStripe, EventID: "evt_2",
		TxnID: "pi_2", CoursePaymentID: &p.ID, Currency: "gbp"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	got = store.state.payments[p.ID]
	assert.Equal(t, models.PaymentStatusFullyPaid, got.Status)
	require.NotNil(t, got.FinalPaidAt)
	rec := store.state.records["pi_2"]
	assert.Equal(t, models.PaymentTypeFinal, rec.PaymentType)
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("112.50")), "amount defaults to what was due")
	require.Len(t, store.state.outbox, 2)
	assert.Equal(t, events.TypeFullyPaid, store.state.outbox[1].Type)
	assert.Equal(t, models.PaymentStatusDepositPaid, store.state.outbox[1].PreviousStatus)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookOutcomes.WithLabelValues("applied")))
}

func TestApplySucceeded_ReplayIsAbsorbed(t *testing.T) {
	store := newMemStore()
	p := store.add(installment())
	proc, sink, m := newProcessor(store)
	ctx := context.Background()

	_, err := proc.ApplySucceeded(ctx, confirm(p.ID, "evt_1", "pi_1"))
	require.NoError(t, err)

	out, err := proc.ApplySucceeded(ctx, confirm(p.ID, "evt_1", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out, "same event id")

	out, err = proc.ApplySucceeded(ctx, confirm(p.ID, "evt_other", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out, "same transaction under a different event")

	out, err = proc.ApplySucceeded(ctx, confirm(p.ID, "", "pi_1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out, "success redirect after the webhook")

	assert.Equal(t, models.PaymentStatusDepositPaid, store.state.payments[p.ID].Status)
	assert.Len(t, store.state.outbox, 1)
	assert.Len(t, sink.sent, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WebhookOutcomes.WithLabelValues("duplicate")))
}

func TestApplySucceeded_FullPlanSettlesImmediately(t *testing.T) {
	store := newMemStore()
	p := store.add(models.CoursePayment{
		Status:        models.PaymentStatusPending,
		TotalAmount:   decimal.NewFromInt(150),
		DepositAmount: decimal.NewFromInt(150),
		FinalAmount:   decimal.Zero,
	})
	proc, sink, _ := newProcessor(store)

	out, err := proc.ApplySucceeded(context.Background(), Confirmation{Provider: "stripe", TxnID: "pi_full", CoursePaymentID: &p.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	got := store.state.payments[p.ID]
	assert.Equal(t, models.PaymentStatusFullyPaid, got.Status)
	require.NotNil(t, got.DepositPaidAt)
	require.NotNil(t, got.FinalPaidAt)
	assert.Equal(t, models.PaymentTypeFull, store.state.records["pi_full"].PaymentType)
	assert.Equal(t, events.TypeFullyPaid, store.state.outbox[0].Type)
	assert.Equal(t, "", sink.sent[0].Data["Remaining"])
}

func TestApplySucceeded_AlreadySettledIsNoTransition(t *testing.T) {
	store := newMemStore()
	paid := installment()
	paid.Status = models.PaymentStatusFullyPaid
	p := store.add(paid)
	proc, sink, _ := newProcessor(store)

	out, err := proc.ApplySucceeded(context.Background(), confirm(p.ID, "evt_9", "pi_9"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoTransition, out)
	assert.Equal(t, models.PaymentStatusFullyPaid, store.state.payments[p.ID].Status)
	assert.Contains(t, store.state.records, "pi_9", "the charge is still on record")
	assert.Empty(t, store.state.outbox)
	assert.Empty(t, sink.sent)
}

func TestApplySucceeded_MatchesByExternalRef(t *testing.T) {
	store := newMemStore()
	pay := installment()
	pay.ExternalPaymentRef = "pi_ref"
	p := store.add(pay)
	proc, _, _ := newProcessor(store)

	out, err := proc.ApplySucceeded(context.Background(), Confirmation{Provider: "stripe", EventID: "evt_r", TxnID: "pi_ref"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
	assert.Equal(t, models.PaymentStatusDepositPaid, store.state.payments[p.ID].Status)
}

func TestApplySucceeded_Unmatched(t *testing.T) {
	store := newMemStore()
	proc, sink, _ := newProcessor(store)
	missing := uuid.New()

	out, err := proc.ApplySucceeded(context.Background(), confirm(missing, "evt_x", "pi_x"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, out)
	assert.Empty(t, store.state.records)
	assert.True(t, store.state.events["stripe/evt_x"])
	assert.Empty(t, sink.sent)
}

func TestApplySucceeded_RollsBackOnError(t *testing.T) {
	for _, op := range []string{"save", "outbox"} {
		t.Run(op, func(t *testing.T) {
			store := newMemStore()
			p := store.add(installment())
			store.failOn = op
			proc, sink, m := newProcessor(store)

			_, err := proc.ApplySucceeded(context.Background(), confirm(p.ID, "evt_1", "pi_1"))
			require.ErrorIs(t, err, errInjected)
			assert.Equal(t, models.PaymentStatusPending, store.state.payments[p.ID].Status)
			assert.Empty(t, store.state.records)
			assert.Empty(t, store.state.events, "the event can be redelivered")
			assert.Empty(t, sink.sent)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookOutcomes.WithLabelValues("error")))

			store.failOn = ""
			out, err := proc.ApplySucceeded(context.Background(), confirm(p.ID, "evt_1", "pi_1"))
			require.NoError(t, err)
			assert.Equal(t, OutcomeApplied, out)
		})
	}
}

func TestApplySucceeded_RequiresTxnID(t *testing.T) {
	proc, _, _ := newProcessor(newMemStore())
	_, err := proc.ApplySucceeded(context.Background(), Confirmation{Provider: "stripe"})
	assert.Error(t, err)
}

func TestApplyFailed_LeavesStatus(t *testing.T) {
	store := newMemStore()
	p := store.add(installment())
	proc, sink, m := newProcessor(store)

	proc.ApplyFailed(context.Background(), Confirmation{TxnID: "pi_f", CoursePaymentID: &p.ID, FailureMessage: "card declined"})
	assert.Equal(t, models.PaymentStatusPending, store.state.payments[p.ID].Status)
	assert.Empty(t, sink.sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookOutcomes.WithLabelValues("failed")))
}

func TestTransition(t *testing.T) {
	at := fixedNow
	p := installment()
	assert.True(t, Transition(&p, at))
	assert.Equal(t, models.PaymentStatusDepositPaid, p.Status)
	assert.True(t, Transition(&p, at))
	assert.Equal(t, models.PaymentStatusFullyPaid, p.Status)
	assert.False(t, Transition(&p, at))

	for _, s := range []string{models.PaymentStatusCancelled, models.PaymentStatusOverdue} {
		q := installment()
		q.Status = s
		assert.False(t, Transition(&q, at), s)
		assert.Equal(t, s, q.Status)
	}
}
