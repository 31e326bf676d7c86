package notify

import (
	"context"
	"strings"
	"time"

	"safeping/internal/config"
	"safeping/internal/domain"
	"safeping/internal/events"
	"safeping/internal/metrics"
	"safeping/internal/models"

	"github.com/rs/zerolog"
)

// Presenter translates push payloads into displayed alerts and routes the
// user's chosen action back to a window.
type Presenter struct {
	sink    domain.AlertSink
	windows domain.WindowRegistry
	state   domain.NotificationState
	cfg     config.NotificationsConfig
	bus     domain.EventPublisher
	logger  zerolog.Logger
}

func NewPresenter(sink domain.AlertSink, windows domain.WindowRegistry, state domain.NotificationState, cfg config.NotificationsConfig, bus domain.EventPublisher, logger zerolog.Logger) *Presenter {
	return &Presenter{
		sink:    sink,
		windows: windows,
		state:   state,
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
	}
}

// Display shows one alert for the intent. A repeat of a tag re-alerts the
// user (renotify); only the re-alert rate limit downgrades it to silent,
// never to dropped.
func (p *Presenter) Display(ctx context.Context, intent models.NotificationIntent) error {
	tag := intent.EffectiveTag()

	_, seen, err := p.state.LastShown(ctx, tag)
	if err != nil {
		p.logger.Warn().Err(err).Str("tag", tag).Msg("Alert state unavailable, treating as first showing")
		seen = false
	}

	silent := false
	if seen {
		allowed, err := p.state.CheckRateLimit(ctx, tag, p.cfg.RealertLimit, p.cfg.RealertWindow)
		if err == nil && !allowed {
			// Over the re-alert budget: still show, but quietly.
			silent = true
		}
	}

	alert := models.Alert{
		Title:    intent.Title,
		Body:     intent.Body,
		Tag:      tag,
		Renotify: seen,
		Silent:   silent,
		Actions: []models.AlertAction{
			{Action: models.ActionCheckIn, Title: "Check In Now"},
			{Action: models.ActionView, Title: "View Details"},
		},
		Data: intent.Data,
	}
	if !silent {
		alert.Vibration = intent.Vibration()
	}

	if err := p.sink.Show(ctx, alert); err != nil {
		return err
	}

	if err := p.state.MarkShown(ctx, tag, time.Now()); err != nil {
		p.logger.Warn().Err(err).Str("tag", tag).Msg("Failed to record alert showing")
	}

	urgency := "normal"
	if intent.Urgent {
		urgency = "urgent"
	}
	metrics.IncNotification(urgency)
	_ = p.bus.PublishJSON(events.EventAlertShown, alert)

	return nil
}

// Route forwards the user's action to the most recently focused window, or
// opens exactly one new window when none is attached.
func (p *Presenter) Route(ctx context.Context, action string, data models.IntentData) error {
	windows, err := p.windows.Windows(ctx)
	if err != nil {
		return err
	}

	if len(windows) > 0 {
		target := windows[0]
		for _, w := range windows[1:] {
			if w.FocusedAt.After(target.FocusedAt) {
				target = w
			}
		}
		p.logger.Debug().Str("window", target.ID).Str("action", action).Msg("Forwarding action to existing window")
		return p.windows.FocusAndPost(ctx, target.ID, action, data)
	}

	url := p.targetURL(action, data)
	p.logger.Debug().Str("url", url).Str("action", action).Msg("No window attached, opening one")
	return p.windows.OpenWindow(ctx, url)
}

// targetURL picks the location for a fresh window, in priority order.
func (p *Presenter) targetURL(action string, data models.IntentData) string {
	switch {
	case action == models.ActionCheckIn:
		return p.cfg.CheckInURL
	case action == models.ActionView && data.IncidentID != "":
		return strings.TrimSuffix(p.cfg.IncidentURL, "/") + "/" + data.IncidentID
	case data.URL != "":
		return data.URL
	default:
		return p.cfg.HomeURL
	}
}
