package billing

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/metrics"
)

// EventReconciler applies one parsed event.
type EventReconciler interface {
	Reconcile(ctx context.Context, ev Event) (Outcome, error)
}

type WebhookResult struct {
	Duplicate bool    `json:"duplicate"`
	Outcome   Outcome `json:"outcome"`
}

// WebhookProcessor sits between the HTTP endpoint and the reconciler: it keeps
// the delivery ledger and hands failed events to the dead-letter queue.
type WebhookProcessor struct {
	ledger      WebhookLedger
	reconciler  EventReconciler
	deadLetters DeadLetterQueue
}

// NewWebhookProcessor creates a processor. deadLetters may be nil.
func NewWebhookProcessor(ledger WebhookLedger, reconciler EventReconciler, deadLetters DeadLetterQueue) *WebhookProcessor {
	return &WebhookProcessor{ledger: ledger, reconciler: reconciler, deadLetters: deadLetters}
}

// Process handles a verified delivery. It never fails the delivery: every
// error is logged, stored on the ledger row and, when retryable, dead-lettered.
func (p *WebhookProcessor) Process(ctx context.Context, ev Event, payload []byte) WebhookResult {
	row, duplicate := p.record(ctx, ev, payload)
	if duplicate {
		log.Infof("[Webhook] duplicate delivery %s (%s) skipped", ev.ID, ev.Type)
		metrics.WebhookEventsTotal.WithLabelValues(ev.Type, "duplicate").Inc()
		return WebhookResult{Duplicate: true, Outcome: OutcomeNoop}
	}

	out, err := p.reconciler.Reconcile(ctx, ev)
	p.finish(ctx, row, err)

	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		p.deadLetter(ctx, ev, payload, err)
	}
	return WebhookResult{Outcome: out}
}

// Redeliver re-runs a stored payload. A record that still does not exist is
// terminal and reported as success.
func (p *WebhookProcessor) Redeliver(ctx context.Context, payload []byte) error {
	ev, err := ParseEventJSON(payload)
	if err != nil {
		return err
	}
	row, duplicate := p.record(ctx, ev, payload)
	if duplicate {
		return nil
	}
	_, err = p.reconciler.Reconcile(ctx, ev)
	p.finish(ctx, row, err)
	if errors.Is(err, ErrRecordNotFound) {
		return nil
	}
	return err
}

// record writes the ledger row. A ledger failure does not stop reconciliation.
func (p *WebhookProcessor) record(ctx context.Context, ev Event, payload []byte) (*models.BillingWebhookEvent, bool) {
	if p.ledger == nil {
		return nil, false
	}
	created, row, err := p.ledger.CreateWebhookEventIfNotExists(ctx, &models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(payload),
	})
	if err != nil {
		log.Errorf("[Webhook] ledger write for %s failed: %v", ev.ID, err)
		return nil, false
	}
	if !created && row.Succeeded() {
		return row, true
	}
	return row, false
}

func (p *WebhookProcessor) finish(ctx context.Context, row *models.BillingWebhookEvent, reconcileErr error) {
	if p.ledger == nil || row == nil {
		return
	}
	msg := ""
	if reconcileErr != nil {
		msg = reconcileErr.Error()
	}
	if err := p.ledger.MarkWebhookProcessed(ctx, row.ID, msg); err != nil {
		log.Errorf("[Webhook] ledger update for %s failed: %v", row.ProviderEventID, err)
	}
}

func (p *WebhookProcessor) deadLetter(ctx context.Context, ev Event, payload []byte, cause error) {
	if p.deadLetters == nil {
		return
	}
	err := p.deadLetters.Push(ctx, DeadLetter{
		EventID:   ev.ID,
		EventType: ev.Type,
		Payload:   string(payload),
		Attempts:  1,
		LastError: cause.Error(),
	})
	if err != nil {
		log.Errorf("[DeadLetter] could not queue %s: %v", ev.ID, err)
		return
	}
	metrics.DeadLetterTotal.WithLabelValues("queued").Inc()
}
