package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arbiterhq/sentinel/internal/agent"
	"github.com/arbiterhq/sentinel/internal/bus"
	domagent "github.com/arbiterhq/sentinel/internal/domain/agent"
	"github.com/arbiterhq/sentinel/internal/domain/event"
	"github.com/arbiterhq/sentinel/internal/domain/remediation"
	"github.com/arbiterhq/sentinel/internal/logger"
)

const maxBodyBytes = 64 << 10

// Fleet is the supervisor surface the API reads from.
type Fleet interface {
	Records() []domagent.Record
	Record(name string) (domagent.Record, error)
	Stats(name string) domagent.Stats
}

// Notifier serves the operator notification log.
type Notifier interface {
	Notifications(limit int) []agent.Notification
}

// AttemptLister exposes the remediation attempt table.
type AttemptLister interface {
	Attempts() []remediation.Attempt
}

// FallbackFlag reports whether the external decision source is usable.
type FallbackFlag interface {
	Available() bool
}

// Handlers holds the API dependencies.
type Handlers struct {
	bus       *bus.Bus
	fleet     Fleet
	notifier  Notifier
	attempts  AttemptLister
	fallback  FallbackFlag
	log       *slog.Logger
	startedAt time.Time
}

// NewHandlers wires the API against its collaborators. Any of them may
// be nil; the matching endpoints then degrade to empty responses.
func NewHandlers(b *bus.Bus, fleet Fleet, notifier Notifier, attempts AttemptLister, fallback FallbackFlag, log *slog.Logger) *Handlers {
	return &Handlers{
		bus:       b,
		fleet:     fleet,
		notifier:  notifier,
		attempts:  attempts,
		fallback:  fallback,
		log:       log.With("component", "http"),
		startedAt: time.Now().UTC(),
	}
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, adminAuth func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/system/status", h.SystemStatus)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{name}", h.GetAgent)
		r.Get("/events/history", h.EventHistory)
		r.Get("/notifications", h.Notifications)
		if adminAuth != nil {
			r.With(adminAuth).Post("/command", h.PostCommand)
		} else {
			r.Post("/command", h.PostCommand)
		}
	})
}

// Health is the liveness endpoint.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// SystemStatus reports a one-page view of the whole system.
func (h *Handlers) SystemStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"bus":            h.bus.Stats(),
	}
	if h.fleet != nil {
		status["agents"] = h.fleet.Records()
	}
	if h.fallback != nil {
		status["llm_fallback_active"] = !h.fallback.Available()
	}
	if h.attempts != nil {
		status["remediation_attempts"] = h.attempts.Attempts()
	}
	writeJSON(w, http.StatusOK, status)
}

// ListAgents returns every agent record.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	if h.fleet == nil {
		writeJSON(w, http.StatusOK, []domagent.Record{})
		return
	}
	writeJSON(w, http.StatusOK, h.fleet.Records())
}

// GetAgent returns one agent record with its loop counters.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	if h.fleet == nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	name := chi.URLParam(r, "name")
	rec, err := h.fleet.Record(name)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record": rec,
		"stats":  h.fleet.Stats(name),
	})
}

// EventHistory returns recent events, newest first. Accepts limit and
// type query parameters.
func (h *Handlers) EventHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	var types []event.Type
	if t := r.URL.Query().Get("type"); t != "" {
		types = append(types, event.Type(t))
	}
	writeJSON(w, http.StatusOK, h.bus.History(limit, types...))
}

// Notifications returns the communicator's recent log entries.
func (h *Handlers) Notifications(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		writeJSON(w, http.StatusOK, []agent.Notification{})
		return
	}
	limit := queryInt(r, "limit", 50)
	writeJSON(w, http.StatusOK, h.notifier.Notifications(limit))
}

type commandRequest struct {
	Command string `json:"command"`
	Target  string `json:"target"`
}

// validCommands is what the API accepts for POST /api/command.
var validCommands = map[string]bool{
	event.CommandHealthCheck: true,
	event.CommandStatus:      true,
	event.CommandRestart:     true,
	event.CommandShutdown:    true,
}

// PostCommand publishes a command event addressed to one agent or the
// whole fleet.
func (h *Handlers) PostCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[commandRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !validCommands[req.Command] {
		writeError(w, http.StatusBadRequest, "unknown command "+strconv.Quote(req.Command))
		return
	}
	if req.Target == "" {
		req.Target = event.TargetAll
	}

	ev := event.NewCommand("api", req.Command, req.Target)
	if id := logger.RequestID(r.Context()); id != "" {
		ev = ev.WithCorrelation(id)
	}
	h.bus.Publish(ev)

	h.log.Info("command published", "command", req.Command, "target", req.Target)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"published": true,
		"event_id":  ev.ID,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
