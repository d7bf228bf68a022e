package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing/billingtest"
)

func TestProcessor_SkipsProcessedDuplicates(t *testing.T) {
	f := newFixture(models.Account{ID: 1, ProviderCustomerID: strPtr("cus_1")})
	f.store.Seed(paidRecord(1, "cus_1", "sub_1", "LITE"))
	queue := billingtest.NewMemoryDeadLetterQueue()
	p := billing.NewWebhookProcessor(f.store, f.svc.Webhooks, queue)

	payload := eventJSON("evt_1", "invoice.payment_failed", invoiceObject("in_1", "sub_1", "cus_1", "open", 0))
	ev := mustEvent(t, payload)

	res := p.Process(context.Background(), ev, payload)
	assert.False(t, res.Duplicate)
	assert.Equal(t, billing.OutcomeApplied, res.Outcome)

	res = p.Process(context.Background(), ev, payload)
	assert.True(t, res.Duplicate)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Succeeded())
	assert.Equal(t, 1, events[0].Attempts)
	n, _ := queue.Len(context.Background())
	assert.Zero(t, n)
}

func TestProcessor_NotFoundIsNotDeadLettered(t *testing.T) {
	f := newFixture()
	queue := billingtest.NewMemoryDeadLetterQueue()
	p := billing.NewWebhookProcessor(f.store, f.svc.Webhooks, queue)

	payload := eventJSON("evt_1", "invoice.payment_failed", invoiceObject("in_1", "sub_x", "cus_x", "open", 0))
	res := p.Process(context.Background(), mustEvent(t, payload), payload)

	assert.Equal(t, billing.OutcomeNotFound, res.Outcome)
	assert.NotEmpty(t, f.store.Events()[0].ProcessingError)
	n, _ := queue.Len(context.Background())
	assert.Zero(t, n)
}

func TestProcessor_FailuresAreDeadLetteredAndReplayed(t *testing.T) {
	f := newFixture(models.Account{ID: 1, ProviderCustomerID: strPtr("cus_1")})
	f.store.Seed(paidRecord(1, "cus_1", "sub_1", "LITE"))
	f.provider.Fail("AttachPaymentMethod", nil)
	queue := billingtest.NewMemoryDeadLetterQueue()
	p := billing.NewWebhookProcessor(f.store, f.svc.Webhooks, queue)

	payload := eventJSON("evt_1", "customer.subscription.updated",
		`{"id":"sub_1","customer":"cus_1","status":"active","default_payment_method":"pm_1","items":{"data":[]}}`)
	res := p.Process(context.Background(), mustEvent(t, payload), payload)
	assert.Equal(t, billing.OutcomeFailed, res.Outcome)

	queued, err := queue.List(context.Background(), false, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "evt_1", queued[0].EventID)
	assert.Equal(t, 1, queued[0].Attempts)

	replayer := billing.NewDeadLetterReplayer(queue, p, 3, 0)

	stats, err := replayer.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, billing.ReplayStats{Requeued: 1}, stats)

	f.provider.Succeed("AttachPaymentMethod")
	stats, err = replayer.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, billing.ReplayStats{Replayed: 1}, stats)
	assert.True(t, f.store.Events()[0].Succeeded())
	assert.Equal(t, "pm_1", f.provider.DefaultMethods["cus_1"])
}

func TestReplayer_ExhaustsAfterMaxAttempts(t *testing.T) {
	f := newFixture(models.Account{ID: 1, ProviderCustomerID: strPtr("cus_1")})
	f.store.Seed(paidRecord(1, "cus_1", "sub_1", "LITE"))
	f.provider.Fail("AttachPaymentMethod", nil)
	queue := billingtest.NewMemoryDeadLetterQueue()
	p := billing.NewWebhookProcessor(f.store, f.svc.Webhooks, queue)

	payload := eventJSON("evt_1", "customer.subscription.updated",
		`{"id":"sub_1","customer":"cus_1","status":"active","default_payment_method":"pm_1","items":{"data":[]}}`)
	require.NoError(t, queue.Push(context.Background(), billing.DeadLetter{EventID: "evt_1", Payload: string(payload), Attempts: 1}))

	replayer := billing.NewDeadLetterReplayer(queue, p, 2, 0)
	stats, err := replayer.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exhausted)

	exhausted, _ := queue.List(context.Background(), true, 0)
	require.Len(t, exhausted, 1)
	assert.Equal(t, 2, exhausted[0].Attempts)
	assert.NotEmpty(t, exhausted[0].LastError)
}
