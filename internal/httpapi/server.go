// ABOUTME: HTTP surface of the mediator: inbound events, escalation review and health
// ABOUTME: chi router with request ids, panic recovery and optional HMAC verification of inbound events
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harper/auticonnect-mediator/internal/engine"
	"github.com/harper/auticonnect-mediator/internal/escalation"
	"github.com/harper/auticonnect-mediator/internal/models"
	"github.com/harper/auticonnect-mediator/internal/notify"
	"github.com/harper/auticonnect-mediator/internal/workers"
)

// maxBodyBytes bounds inbound request bodies
const maxBodyBytes = 1 << 20

// Mediator is the engine surface the API needs
type Mediator interface {
	Submit(ctx context.Context, ev models.Event) error
	State(conversationID string) (models.ConversationState, error)
	Conversations() []string
	Stats() engine.Stats
}

// Escalations is the escalation lifecycle the API drives
type Escalations interface {
	Get(ctx context.Context, id string) (*models.EscalationEvent, error)
	List(ctx context.Context, status models.EscalationStatus, limit int) ([]*models.EscalationEvent, error)
	Acknowledge(ctx context.Context, id, by string) (*models.EscalationEvent, error)
}

// Pinger reports database health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the server; Secret enables signature checks on POST /api/events
type Options struct {
	Secret         string
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Server routes HTTP requests to the engine and the dispatcher
type Server struct {
	router      *chi.Mux
	mediator    Mediator
	escalations Escalations
	db          Pinger
	opts        Options
	startTime   time.Time
}

// NewServer builds the router; db may be nil
func NewServer(mediator Mediator, escalations Escalations, db Pinger, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		router:      chi.NewRouter(),
		mediator:    mediator,
		escalations: escalations,
		db:          db,
		opts:        opts,
		startTime:   opts.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.opts.RequestTimeout))

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/events", s.handleEvent)
		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{conversation_id}", s.handleConversation)
		r.Get("/escalations", s.handleListEscalations)
		r.Get("/escalations/{escalation_id}", s.handleEscalation)
		r.Post("/escalations/{escalation_id}/ack", s.handleAcknowledge)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per request in the [http] style used by the rest of the service
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Printf("[http] %s %s %d %s id=%s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond), middleware.GetReqID(r.Context()))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if s.opts.Secret != "" {
		err := notify.VerifySignature(s.opts.Secret, r.Header.Get(notify.HeaderSignature), r.Header.Get(notify.HeaderTimestamp), body, s.opts.Now())
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var ev models.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.mediator.Submit(r.Context(), ev); err != nil {
		switch {
		case errors.Is(err, workers.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, "mediator is shutting down")
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			writeError(w, http.StatusServiceUnavailable, "mediator queue is full")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted":        true,
		"conversation_id": ev.ConversationID,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ids := s.mediator.Conversations()
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": ids,
		"count":         len(ids),
	})
}

// ConversationView is the JSON shape of a tracked conversation
type ConversationView struct {
	ConversationID      string           `json:"conversation_id"`
	Kind                string           `json:"kind"`
	Participants        []string         `json:"participants"`
	TensionScore        float64          `json:"tension_score"`
	SilenceSince        time.Time        `json:"silence_since"`
	LastInterventionAt  time.Time        `json:"last_intervention_at,omitempty"`
	ParticipationCounts map[string]int   `json:"participation_counts"`
	Topic               []string         `json:"topic,omitempty"`
	Activity            *models.Activity `json:"activity,omitempty"`
	TurnWindow          []models.Turn    `json:"turn_window"`
}

func newConversationView(st models.ConversationState) ConversationView {
	participants := make([]string, 0, len(st.Participants))
	for id := range st.Participants {
		participants = append(participants, id)
	}
	sort.Strings(participants)
	turns := st.TurnWindow
	if turns == nil {
		turns = []models.Turn{}
	}
	return ConversationView{
		ConversationID:      st.ConversationID,
		Kind:                string(st.Kind),
		Participants:        participants,
		TensionScore:        st.TensionScore,
		SilenceSince:        st.SilenceSince,
		LastInterventionAt:  st.LastInterventionAt,
		ParticipationCounts: st.ParticipationCounts,
		Topic:               st.Topic,
		Activity:            st.Activity,
		TurnWindow:          turns,
	}
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")
	st, err := s.mediator.State(id)
	if err != nil {
		if errors.Is(err, models.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newConversationView(st))
}

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	status := models.EscalationStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	events, err := s.escalations.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*models.EscalationEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"escalations": events,
		"count":       len(events),
	})
}

func (s *Server) handleEscalation(w http.ResponseWriter, r *http.Request) {
	ev, err := s.escalations.Get(r.Context(), chi.URLParam(r, "escalation_id"))
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type ackRequest struct {
	SupervisorID string `json:"supervisor_id"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.SupervisorID) == "" {
		writeError(w, http.StatusBadRequest, "supervisor_id is required")
		return
	}
	ev, err := s.escalations.Acknowledge(r.Context(), chi.URLParam(r, "escalation_id"), req.SupervisorID)
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func writeEscalationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrEscalationNotFound):
		writeError(w, http.StatusNotFound, "escalation not found")
	case errors.Is(err, escalation.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// HealthResponse reports liveness and engine counters
type HealthResponse struct {
	Status   string       `json:"status"`
	Database string       `json:"database"`
	Uptime   string       `json:"uptime"`
	Stats    engine.Stats `json:"stats"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Database: "none",
		Uptime:   s.opts.Now().Sub(s.startTime).Round(time.Second).String(),
		Stats:    s.mediator.Stats(),
	}
	status := http.StatusOK
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			log.Printf("[http] health: database ping failed: %v", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	writeJSON(w, status, resp)
}
