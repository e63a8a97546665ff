package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/draftdeck/draftdeck/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// payloadSnapshotLimit bounds the audit copy stored with each ledger entry.
const payloadSnapshotLimit = 2048

// IdempotencyLedger is the durable (gateway, eventID) ledger that turns
// provider at-least-once redelivery into exactly-once application. The
// begin-marking insert is atomic at the storage layer; two concurrent
// deliveries of the same event race on the unique key, not in this process.
type IdempotencyLedger struct {
	repo Repository
}

func NewIdempotencyLedger(repo Repository) *IdempotencyLedger {
	return &IdempotencyLedger{repo: repo}
}

// CheckAndMarkProcessing atomically inserts a processing record for
// (gateway, eventID). isNew=false means another delivery already owns the
// event (in any state) and the caller must acknowledge without side effects.
func (l *IdempotencyLedger) CheckAndMarkProcessing(gateway, eventID, eventType string, payload []byte) (bool, *models.WebhookEvent, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		sum := sha256.Sum256(payload)
		id = "hash:" + hex.EncodeToString(sum[:])
	}

	snapshot := string(payload)
	if len(snapshot) > payloadSnapshotLimit {
		snapshot = snapshot[:payloadSnapshotLimit]
	}

	event := &models.WebhookEvent{
		Gateway:         gateway,
		EventID:         id,
		EventType:       strings.TrimSpace(eventType),
		State:           models.WebhookEventProcessing,
		PayloadSnapshot: snapshot,
	}
	return l.repo.CreateWebhookEventIfNotExists(event)
}

// MarkProcessed records a successful terminal transition.
func (l *IdempotencyLedger) MarkProcessed(gateway, eventID, resultSummary string) {
	l.complete(gateway, eventID, models.WebhookEventProcessed, resultSummary)
}

// MarkFailed records a failed terminal transition so the provider's retry can
// re-attempt via a fresh delivery.
func (l *IdempotencyLedger) MarkFailed(gateway, eventID, errMsg string) {
	l.complete(gateway, eventID, models.WebhookEventFailed, errMsg)
}

// MarkSkipped records an acknowledged no-op (unknown event type, no linked
// local account).
func (l *IdempotencyLedger) MarkSkipped(gateway, eventID, reason string) {
	l.complete(gateway, eventID, models.WebhookEventSkipped, reason)
}

func (l *IdempotencyLedger) complete(gateway, eventID, state, msg string) {
	updated, err := l.repo.CompleteWebhookEvent(gateway, eventID, state, msg)
	if err != nil {
		log.Errorf("ledger: completing %s/%s as %s failed: %v", gateway, eventID, state, err)
		return
	}
	if !updated {
		// Already terminal; redelivered completions are no-ops.
		log.Infof("ledger: %s/%s already terminal, ignoring %s", gateway, eventID, state)
	}
}

// GenerateEventID derives a stable event id for gateways whose callbacks lack
// one, so redeliveries of the same logical event collide on the same key.
func GenerateEventID(gateway, nativeID, eventType string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", gateway, nativeID, eventType)))
	return "drv:" + hex.EncodeToString(sum[:16])
}
