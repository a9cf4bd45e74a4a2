package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/d3sk-io/d3sk/internal/logbuf"
	"github.com/d3sk-io/d3sk/internal/tenant"
	"github.com/d3sk-io/d3sk/internal/ticket"
	"github.com/d3sk-io/d3sk/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(since time.Time, minLevel slog.Level, limit int) []logbuf.Entry
}

// ChatService is the interface the API server needs from the engine.
type ChatService interface {
	ProcessTurn(ctx context.Context, req protocol.TurnRequest) (*protocol.TurnResponse, error)
}

// TenantValidator checks whether a tenant may be served for an origin.
type TenantValidator interface {
	Validate(ctx context.Context, tenantID, origin string) error
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth on admin routes
}

// Server is the d3sk REST API server. The chat endpoints are public
// (gated by tenant and origin validation); everything else is admin
// surface behind Bearer auth.
type Server struct {
	chat      ChatService
	tickets   ticket.Store
	tenants   tenant.Registry
	validator TenantValidator
	cfg       Config
	logger    *slog.Logger
	logs      LogQuerier
	srv       *http.Server
}

// NewServer creates a new API server. logs may be nil.
func NewServer(chat ChatService, tickets ticket.Store, tenants tenant.Registry, validator TenantValidator, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		chat:      chat,
		tickets:   tickets,
		tenants:   tenants,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
		logs:      logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("GET /api/tickets/stats", s.requireAuth(s.handleTicketStats))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("POST /api/tickets/{id}/resolve", s.requireAuth(s.handleResolveTicket))
	mux.HandleFunc("DELETE /api/tickets/{id}", s.requireAuth(s.handleDeleteTicket))
	mux.HandleFunc("GET /api/tenants", s.requireAuth(s.handleListTenants))
	mux.HandleFunc("POST /api/tenants", s.requireAuth(s.handleCreateTenant))
	mux.HandleFunc("POST /api/tenants/{id}/active", s.requireAuth(s.handleSetTenantActive))
	mux.HandleFunc("DELETE /api/tenants/{id}", s.requireAuth(s.handleDeleteTenant))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// checkTenant validates the tenant/origin pair and writes the error
// response itself. Returns false when the request must not proceed.
func (s *Server) checkTenant(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	if s.validator == nil {
		return true
	}
	err := s.validator.Validate(r.Context(), tenantID, r.Header.Get("Origin"))
	switch {
	case err == nil:
		return true
	case errors.Is(err, tenant.ErrUnknownTenant):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tenant"})
	case errors.Is(err, tenant.ErrInactive), errors.Is(err, tenant.ErrDomainNotAllowed):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("tenant validation failed", "tenant", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return false
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	if req.TenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id is required"})
		return
	}
	if !s.checkTenant(w, r, req.TenantID) {
		return
	}

	resp, err := s.chat.ProcessTurn(r.Context(), req)
	if err != nil {
		s.logger.Error("chat turn failed", "thread", req.ThreadID, "tenant", req.TenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	filter := ticket.Filter{}
	if status := r.URL.Query().Get("status"); status != "" {
		ts := protocol.TicketStatus(strings.ToUpper(status))
		filter.Status = &ts
	}
	if tenantID := r.URL.Query().Get("tenant"); tenantID != "" {
		filter.TenantID = tenantID
	}
	if threadID := r.URL.Query().Get("thread"); threadID != "" {
		filter.ThreadID = threadID
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = n
		}
	}

	tickets, err := s.tickets.List(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if tickets == nil {
		tickets = []*protocol.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleTicketStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.tickets.CountByStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"open":     counts[protocol.TicketOpen],
		"resolved": counts[protocol.TicketResolved],
	})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.tickets.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type resolveTicketRequest struct {
	Remarks string `json:"remarks"`
}

func (s *Server) handleResolveTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req resolveTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := s.tickets.Resolve(r.Context(), id, req.Remarks); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not found"})
		return
	}
	s.logger.Info("ticket resolved", "ticket", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved", "ticket_id": id})
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.tickets.Delete(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ticket not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "ticket_id": id})
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.tenants.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if tenants == nil {
		tenants = []*tenant.Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

type createTenantRequest struct {
	ID             string   `json:"tenant_id"`
	Name           string   `json:"name"`
	AllowedDomains []string `json:"allowed_domains"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.ID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id and name are required"})
		return
	}

	t := &tenant.Tenant{
		ID:             req.ID,
		Name:           req.Name,
		Active:         true,
		AllowedDomains: req.AllowedDomains,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.tenants.Create(r.Context(), t); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("tenant created", "tenant", t.ID)
	writeJSON(w, http.StatusCreated, t)
}

type setTenantActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetTenantActive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setTenantActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := s.tenants.SetActive(r.Context(), id, req.Active); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": id, "active": req.Active})
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.tenants.Delete(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "tenant_id": id})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	var since time.Time
	if sv := r.URL.Query().Get("since"); sv != "" {
		if ms, err := strconv.ParseInt(sv, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(since, minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
