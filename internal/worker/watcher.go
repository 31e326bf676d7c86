package worker

import (
	"context"
	"io"
	"net/http"
	"sort"
	"time"

	"safeping/internal/domain"
	"safeping/internal/events"
	"safeping/internal/models"

	"github.com/rs/zerolog"
)

// SyncFunc delivers one connectivity-restoration tag to the router.
type SyncFunc func(ctx context.Context, tag string)

// ConnectivityWatcher stands in for the host's online/offline signal: it
// probes the submission endpoint and, on an offline-to-online transition,
// delivers every registered sync tag.
type ConnectivityWatcher struct {
	db       domain.Queue
	probeURL string
	client   *http.Client
	interval time.Duration
	retry    RetryPolicy
	deliver  SyncFunc
	bus      domain.EventPublisher
	logger   zerolog.Logger

	online   bool
	failures int
}

func NewConnectivityWatcher(db domain.Queue, probeURL string, interval time.Duration, retry RetryPolicy, deliver SyncFunc, bus domain.EventPublisher, logger zerolog.Logger) *ConnectivityWatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ConnectivityWatcher{
		db:       db,
		probeURL: probeURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		interval: interval,
		retry:    retry,
		deliver:  deliver,
		bus:      bus,
		logger:   logger,
	}
}

// Start runs the probe loop until ctx is done. The very first successful
// probe also counts as a restoration so tags registered while the agent was
// stopped get drained promptly.
func (w *ConnectivityWatcher) Start(ctx context.Context) {
	w.logger.Info().Str("probe", w.probeURL).Msg("Connectivity watcher started")
	defer w.logger.Info().Msg("Connectivity watcher stopped")

	for {
		wasOnline := w.online
		w.online = w.probe(ctx)

		if w.online {
			w.failures = 0
			if !wasOnline {
				_ = w.bus.PublishJSON(events.EventConnectivityChanged, events.ConnectivityEventPayload{Online: true})
				w.fireRegisteredSyncs(ctx)
			}
		} else {
			w.failures++
			if wasOnline {
				w.logger.Warn().Msg("Connectivity lost")
				_ = w.bus.PublishJSON(events.EventConnectivityChanged, events.ConnectivityEventPayload{Online: false})
			}
		}

		delay := w.interval
		if !w.online {
			// Back off while offline; flapping networks should not
			// hammer the probe.
			delay = w.retry.NextDelay(w.failures)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (w *ConnectivityWatcher) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode < 500
}

// fireRegisteredSyncs delivers pending tags, emergencies first. Each tag is
// delivered once per restoration; the drain itself decides what is left.
func (w *ConnectivityWatcher) fireRegisteredSyncs(ctx context.Context) {
	regs, err := w.db.PendingSyncTags(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to list pending sync tags")
		return
	}
	if len(regs) == 0 {
		return
	}

	// Emergency drains are safety-critical; run them ahead of check-ins.
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].Tag == models.SyncTagEmergency && regs[j].Tag != models.SyncTagEmergency
	})

	w.logger.Info().Int("tags", len(regs)).Msg("Connectivity restored, delivering sync tags")
	for _, reg := range regs {
		w.deliver(ctx, reg.Tag)
	}
}
