package notify

import (
	"context"
	"sync"
	"time"

	"safeping/internal/models"
)

// ShownAlert is one alert as held by the feed.
type ShownAlert struct {
	models.Alert
	ShownAt time.Time `json:"shown_at"`
}

// AlertFeed is the in-process alert surface. Windows read the active set
// over the message API; the OS shell mirrors it into platform notifications.
// Showing an alert with an existing tag replaces it and re-alerts (renotify)
// instead of silently suppressing the newcomer.
type AlertFeed struct {
	mu     sync.Mutex
	active map[string]ShownAlert
}

func NewAlertFeed() *AlertFeed {
	return &AlertFeed{active: make(map[string]ShownAlert)}
}

func (f *AlertFeed) Show(ctx context.Context, alert models.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[alert.Tag] = ShownAlert{Alert: alert, ShownAt: time.Now()}
	return nil
}

// Close removes the alert with the given tag. Closing an unknown tag is a
// no-op; the user may already have dismissed it.
func (f *AlertFeed) Close(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, tag)
	return nil
}

// Active returns the currently displayed alerts.
func (f *AlertFeed) Active() []ShownAlert {
	f.mu.Lock()
	defer f.mu.Unlock()

	alerts := make([]ShownAlert, 0, len(f.active))
	for _, alert := range f.active {
		alerts = append(alerts, alert)
	}
	return alerts
}
