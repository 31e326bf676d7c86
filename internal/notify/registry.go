package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"safeping/internal/models"
)

// PostedMessage is an action forwarded to a window.
type PostedMessage struct {
	Action string            `json:"action"`
	Data   models.IntentData `json:"data"`
}

// OpenFunc asks the host shell to open a new application window.
type OpenFunc func(ctx context.Context, url string) error

// Registry tracks the application windows currently attached to the agent
// and the messages waiting for each of them.
type Registry struct {
	mu      sync.Mutex
	windows map[string]models.Window
	outbox  map[string][]PostedMessage
	open    OpenFunc
	opened  []string
}

// NewRegistry builds a registry. A nil open function records open requests
// for the shell to pick up instead of failing.
func NewRegistry(open OpenFunc) *Registry {
	return &Registry{
		windows: make(map[string]models.Window),
		outbox:  make(map[string][]PostedMessage),
		open:    open,
	}
}

// Attach registers (or refreshes) a window connection.
func (r *Registry) Attach(id, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows[id] = models.Window{ID: id, URL: url, FocusedAt: time.Now()}
}

// Detach removes a closed window and drops its unread messages.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, id)
	delete(r.outbox, id)
}

// Focus records that a window came to the foreground.
func (r *Registry) Focus(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[id]; ok {
		w.FocusedAt = time.Now()
		r.windows[id] = w
	}
}

func (r *Registry) Windows(ctx context.Context) ([]models.Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	windows := make([]models.Window, 0, len(r.windows))
	for _, w := range r.windows {
		windows = append(windows, w)
	}
	return windows, nil
}

// FocusAndPost brings a window forward and queues an action message for it.
func (r *Registry) FocusAndPost(ctx context.Context, windowID, action string, data models.IntentData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[windowID]
	if !ok {
		return fmt.Errorf("unknown window %q", windowID)
	}
	w.FocusedAt = time.Now()
	r.windows[windowID] = w
	r.outbox[windowID] = append(r.outbox[windowID], PostedMessage{Action: action, Data: data})
	return nil
}

// OpenWindow opens exactly one new window at url.
func (r *Registry) OpenWindow(ctx context.Context, url string) error {
	if r.open != nil {
		return r.open(ctx, url)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, url)
	return nil
}

// Drain returns and clears the messages queued for a window.
func (r *Registry) Drain(windowID string) []PostedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.outbox[windowID]
	delete(r.outbox, windowID)
	return msgs
}

// PendingOpens returns and clears recorded open requests.
func (r *Registry) PendingOpens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	opened := r.opened
	r.opened = nil
	return opened
}
