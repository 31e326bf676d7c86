package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"safeping/internal/config"
	"safeping/internal/domain"
	"safeping/internal/events"
	"safeping/internal/metrics"
	"safeping/internal/models"

	"github.com/rs/zerolog"
)

// Replayer drains a durable collection by attempting network delivery for
// each queued item. An item leaves the store only on confirmed 2xx; a failed
// item stays put and never aborts the rest of the batch.
type Replayer struct {
	db          domain.Queue
	client      *http.Client
	endpoints   map[models.Collection]string
	maxAttempts int
	acks        domain.AlertSink
	bus         domain.EventPublisher
	logger      zerolog.Logger
}

// NewReplayer builds a replayer against the configured submission endpoint.
// maxAttempts of zero means an item is retried on every drain forever.
func NewReplayer(db domain.Queue, endpoint config.EndpointConfig, syncCfg config.SyncConfig, acks domain.AlertSink, bus domain.EventPublisher, logger zerolog.Logger) *Replayer {
	return &Replayer{
		db: db,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		endpoints: map[models.Collection]string{
			models.CollectionCheckins:    endpoint.CheckinsURL(),
			models.CollectionEmergencies: endpoint.EmergencyURL(),
		},
		maxAttempts: syncCfg.MaxAttempts,
		acks:        acks,
		bus:         bus,
		logger:      logger,
	}
}

// Drain replays every item present in the collection when the call starts.
// Items enqueued mid-drain wait for the next pass.
func (r *Replayer) Drain(ctx context.Context, collection models.Collection) (models.DrainSummary, error) {
	summary := models.DrainSummary{Collection: collection}

	endpoint, ok := r.endpoints[collection]
	if !ok {
		return summary, fmt.Errorf("no endpoint for collection %q", collection)
	}

	items, err := r.db.ListAll(ctx, collection)
	if err != nil {
		return summary, fmt.Errorf("snapshot %s: %w", collection, err)
	}

	// The store guarantees no order; replay oldest first.
	sort.Slice(items, func(i, j int) bool { return items[i].Timestamp < items[j].Timestamp })

	for i := range items {
		item := items[i]
		summary.Attempted++

		if err := r.submit(ctx, endpoint, item); err != nil {
			summary.Failed++
			metrics.IncDrain(string(collection), "failed")
			r.logger.Warn().Err(err).Str("id", item.ID).Str("collection", string(collection)).Msg("Submission failed, item retained")
			r.recordFailure(ctx, collection, item, err, &summary)
			continue
		}

		summary.Succeeded++
		metrics.IncDrain(string(collection), "succeeded")

		if err := r.db.Remove(ctx, collection, item.ID); err != nil {
			// The next drain will retry and the endpoint tolerates duplicates.
			r.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to remove delivered item")
		}

		r.ackDelivery(ctx, collection, item)
		_ = r.bus.PublishJSON(events.EventSubmissionDelivered, events.SubmissionEventPayload{
			ID:         item.ID,
			Collection: collection,
			Timestamp:  item.Timestamp,
		})
	}

	if depth, err := r.db.Count(ctx, collection); err == nil {
		metrics.SetQueueDepth(string(collection), depth)
	}

	_ = r.bus.PublishJSON(events.EventDrainCompleted, events.DrainEventPayload{Summary: summary})
	r.logger.Info().
		Str("collection", string(collection)).
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("Drain completed")

	return summary, nil
}

func (r *Replayer) submit(ctx context.Context, endpoint string, item models.QueuedSubmission) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(item.Data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+item.AuthToken)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("submit: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (r *Replayer) recordFailure(ctx context.Context, collection models.Collection, item models.QueuedSubmission, cause error, summary *models.DrainSummary) {
	attempts, err := r.db.RecordAttempt(ctx, item.ID, cause.Error())
	if err != nil {
		r.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to record attempt")
		return
	}

	if r.maxAttempts > 0 && attempts >= r.maxAttempts {
		if err := r.db.RetireToDeadLetter(ctx, collection, item, attempts, cause.Error()); err != nil {
			r.logger.Error().Err(err).Str("id", item.ID).Msg("Failed to retire item to dead letter")
			return
		}
		summary.DeadLetter++
		metrics.IncDrain(string(collection), "dead_letter")
		r.logger.Warn().Str("id", item.ID).Int("attempts", attempts).Msg("Item retired to dead letter")
		_ = r.bus.PublishJSON(events.EventSubmissionRetired, events.SubmissionEventPayload{
			ID:         item.ID,
			Collection: collection,
			Timestamp:  item.Timestamp,
			Attempts:   attempts,
		})
	}
}

// ackDelivery shows the silent "synced" confirmation. Failure to show it is
// logged and ignored; the delivery already happened.
func (r *Replayer) ackDelivery(ctx context.Context, collection models.Collection, item models.QueuedSubmission) {
	if r.acks == nil {
		return
	}

	body := "Your check-in was submitted."
	if collection == models.CollectionEmergencies {
		body = "Your emergency report was submitted."
	}

	alert := models.Alert{
		Title:  "SafePing",
		Body:   body,
		Tag:    "sync-ack",
		Silent: true,
	}
	if err := r.acks.Show(ctx, alert); err != nil {
		r.logger.Warn().Err(err).Str("id", item.ID).Msg("Failed to show sync acknowledgment")
	}
}
