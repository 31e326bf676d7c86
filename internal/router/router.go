// Package router maps host wake signals onto the agent's components. It owns
// no state of its own; every signal resolves to exactly one handler and
// Dispatch returns only when that handler's work is done.
package router

import (
	"context"
	"fmt"

	"safeping/internal/assetcache"
	"safeping/internal/domain"
	"safeping/internal/events"
	"safeping/internal/metrics"
	"safeping/internal/models"

	"github.com/rs/zerolog"
)

// Router dispatches wake signals. A failing handler is logged and absorbed;
// one bad signal must never block later wake-ups.
type Router struct {
	cache     *assetcache.Cache
	queue     domain.Queue
	drainer   domain.Drainer
	presenter domain.Presenter
	sink      domain.AlertSink
	state     domain.NotificationState
	bus       domain.EventPublisher
	logger    zerolog.Logger
}

func New(cache *assetcache.Cache, queue domain.Queue, drainer domain.Drainer, presenter domain.Presenter, sink domain.AlertSink, state domain.NotificationState, bus domain.EventPublisher, logger zerolog.Logger) *Router {
	return &Router{
		cache:     cache,
		queue:     queue,
		drainer:   drainer,
		presenter: presenter,
		sink:      sink,
		state:     state,
		bus:       bus,
		logger:    logger,
	}
}

// Dispatch routes one signal to its handler and waits for completion.
func (r *Router) Dispatch(ctx context.Context, signal Signal) (outcome Outcome) {
	outcome.Signal = signal.Kind()

	defer func() {
		if rec := recover(); rec != nil {
			outcome.Err = fmt.Errorf("handler panicked: %v", rec)
		}
		result := "ok"
		if outcome.Err != nil {
			result = "error"
			r.logger.Error().Err(outcome.Err).Str("signal", outcome.Signal).Msg("Signal handler failed")
		}
		metrics.IncSignal(outcome.Signal, result)
	}()

	switch s := signal.(type) {
	case InstallSignal:
		outcome.Err = r.cache.Install(ctx)
	case ActivateSignal:
		outcome.Err = r.cache.Activate(ctx)
	case FetchSignal:
		r.cache.ServeHTTP(s.W, s.R)
	case SyncSignal:
		outcome.Err = r.handleSync(ctx, s)
	case PushSignal:
		outcome.Err = r.presenter.Display(ctx, models.ParseIntent(s.Body))
	case NotificationActionSignal:
		outcome.Err = r.handleNotificationAction(ctx, s)
	case MessageSignal:
		outcome.Err = r.handleMessage(ctx, s.Message)
	default:
		outcome.Err = fmt.Errorf("unknown signal %q", signal.Kind())
	}

	return outcome
}

// handleSync drains the collection behind a restored tag. The registration
// is cleared only when nothing was left behind; a partly failed drain keeps
// the tag so the next restoration retries.
func (r *Router) handleSync(ctx context.Context, s SyncSignal) error {
	collection, ok := models.CollectionForTag(s.Tag)
	if !ok {
		return fmt.Errorf("unknown sync tag %q", s.Tag)
	}

	summary, err := r.drainer.Drain(ctx, collection)
	if err != nil {
		return err
	}

	if summary.Failed == 0 {
		if err := r.queue.ClearSync(ctx, s.Tag); err != nil {
			r.logger.Warn().Err(err).Str("tag", s.Tag).Msg("Failed to clear sync registration")
		}
	}
	return nil
}

// handleNotificationAction closes the alert first, unconditionally, then
// routes the user's choice.
func (r *Router) handleNotificationAction(ctx context.Context, s NotificationActionSignal) error {
	tag := s.Tag
	if tag == "" {
		tag = models.DefaultAlertTag
	}
	if err := r.sink.Close(ctx, tag); err != nil {
		r.logger.Warn().Err(err).Str("tag", tag).Msg("Failed to close alert")
	}
	// A handled alert is gone; the next push on this tag alerts fresh
	// instead of renotifying.
	if err := r.state.ClearTag(ctx, tag); err != nil {
		r.logger.Warn().Err(err).Str("tag", tag).Msg("Failed to clear alert state")
	}

	return r.presenter.Route(ctx, s.Action, s.Data)
}

func (r *Router) handleMessage(ctx context.Context, msg models.WindowMessage) error {
	switch msg.Type {
	case models.MessageSkipWaiting:
		// Deploy-time cutover: the new generation takes over immediately.
		return r.cache.Activate(ctx)
	case models.MessageQueueCheckin:
		if msg.CheckIn == nil {
			return fmt.Errorf("message %s missing checkin payload", msg.Type)
		}
		return r.enqueue(ctx, models.CollectionCheckins, *msg.CheckIn)
	case models.MessageQueueEmergency:
		if msg.Emergency == nil {
			return fmt.Errorf("message %s missing emergency payload", msg.Type)
		}
		return r.enqueue(ctx, models.CollectionEmergencies, *msg.Emergency)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// enqueue stores the item and registers the collection's sync tag so the
// next connectivity restoration drains it.
func (r *Router) enqueue(ctx context.Context, collection models.Collection, payload models.QueuePayload) error {
	item := &models.QueuedSubmission{
		Data:      payload.Data,
		AuthToken: payload.AuthToken,
	}
	if err := r.queue.Enqueue(ctx, collection, item); err != nil {
		return err
	}

	if err := r.queue.RegisterSync(ctx, collection.SyncTag()); err != nil {
		// The item is safe; only the wake-up registration failed. The next
		// restoration still drains every collection with a live tag.
		r.logger.Warn().Err(err).Str("tag", collection.SyncTag()).Msg("Failed to register sync tag")
	}

	if depth, err := r.queue.Count(ctx, collection); err == nil {
		metrics.SetQueueDepth(string(collection), depth)
	}

	_ = r.bus.PublishJSON(events.EventSubmissionQueued, events.SubmissionEventPayload{
		ID:         item.ID,
		Collection: collection,
		Timestamp:  item.Timestamp,
	})
	return nil
}
