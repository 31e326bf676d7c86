package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"safeping/internal/config"
	"safeping/internal/database"
	"safeping/internal/metrics"
	"safeping/internal/models"
	"safeping/internal/notify"
	"safeping/internal/router"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxMessageBody bounds request bodies for the message endpoints.
const maxMessageBody = 64 << 10

// HTTPServer is the local surface the app windows talk to. Every window
// interaction arrives here and is translated into a signal for the router;
// the server itself holds no queue or notification logic.
type HTTPServer struct {
	cfg     config.APIConfig
	db      *database.DB
	router  *router.Router
	feed    *notify.AlertFeed
	windows *notify.Registry
	server  *http.Server
	auth    *HTTPAuth
	logger  zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, db *database.DB, rt *router.Router, feed *notify.AlertFeed, windows *notify.Registry, logger zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:     cfg,
		db:      db,
		router:  rt,
		feed:    feed,
		windows: windows,
		logger:  logger.With().Str("component", "http_server").Logger(),
	}
	srv.auth = NewHTTPAuth(cfg, logger)

	mux.HandleFunc("/api/v1/messages", srv.handleMessage)
	mux.HandleFunc("/api/v1/push", srv.handlePush)
	mux.HandleFunc("/api/v1/notifications/action", srv.handleNotificationAction)
	mux.HandleFunc("/api/v1/alerts", srv.handleAlerts)
	mux.HandleFunc("/api/v1/queue/status", srv.handleQueueStatus)
	mux.HandleFunc("/api/v1/windows", srv.handleWindows)
	mux.HandleFunc("/api/v1/windows/", srv.handleWindowByID)

	protected := srv.auth.Wrap(mux)

	outer := http.NewServeMux()
	outer.Handle("/api/v1/", protected)
	outer.HandleFunc("/healthz", srv.handleHealth)
	outer.Handle("/metrics", promhttp.Handler())
	// Everything else is the app shell: the fetch path goes through the
	// router so the asset cache decides cache-first vs passthrough.
	outer.HandleFunc("/", srv.handleFetch)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(outer),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleFetch(w http.ResponseWriter, r *http.Request) {
	outcome := s.router.Dispatch(r.Context(), router.FetchSignal{W: w, R: r})
	if outcome.Err != nil {
		writeError(w, http.StatusBadGateway, "fetch failed")
	}
}

func (s *HTTPServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("messages")

	var msg models.WindowMessage
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxMessageBody))
	if err := decoder.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	outcome := s.router.Dispatch(r.Context(), router.MessageSignal{Message: msg})
	if outcome.Err != nil {
		writeError(w, http.StatusUnprocessableEntity, outcome.Err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *HTTPServer) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("push")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	outcome := s.router.Dispatch(r.Context(), router.PushSignal{Body: body})
	if outcome.Err != nil {
		writeError(w, http.StatusUnprocessableEntity, outcome.Err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shown"})
}

func (s *HTTPServer) handleNotificationAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("notification_action")

	var req struct {
		Action string            `json:"action"`
		Tag    string            `json:"tag"`
		Data   models.IntentData `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	outcome := s.router.Dispatch(r.Context(), router.NotificationActionSignal{
		Action: req.Action,
		Tag:    req.Tag,
		Data:   req.Data,
	})
	if outcome.Err != nil {
		writeError(w, http.StatusUnprocessableEntity, outcome.Err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "handled"})
}

func (s *HTTPServer) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.feed.Active()})
}

func (s *HTTPServer) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("queue_status")

	ctx := r.Context()
	counts := make(map[string]int, 2)
	for _, c := range []models.Collection{models.CollectionCheckins, models.CollectionEmergencies} {
		n, err := s.db.Count(ctx, c)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store unavailable")
			return
		}
		counts[string(c)] = n
	}

	regs, err := s.db.PendingSyncTags(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	tags := make([]string, 0, len(regs))
	for _, reg := range regs {
		tags = append(tags, reg.Tag)
	}

	dead, err := s.db.DeadLetters(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending":      counts,
		"sync_tags":    tags,
		"dead_letters": len(dead),
	})
}

func (s *HTTPServer) handleWindows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		windows, err := s.windows.Windows(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "registry unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
	case http.MethodPost:
		var req struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBody)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		s.windows.Attach(req.ID, req.URL)
		writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleWindowByID(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/windows/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	id := strings.TrimSpace(parts[0])
	if id == "" {
		writeError(w, http.StatusBadRequest, "window id is required")
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case r.Method == http.MethodDelete && sub == "":
		s.windows.Detach(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "detached"})
	case r.Method == http.MethodPost && sub == "focus":
		s.windows.Focus(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "focused"})
	case r.Method == http.MethodGet && sub == "messages":
		writeJSON(w, http.StatusOK, map[string]any{"messages": s.windows.Drain(id)})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
