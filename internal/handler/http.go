package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/match-escrow/internal/domain"
	"github.com/match-escrow/internal/escrow"
	"github.com/match-escrow/internal/registry"
	"github.com/match-escrow/internal/settlement"
	"github.com/match-escrow/internal/websocket"
)

// Accounts exposes the gateway's provisioning operations. The core
// never calls these; they exist for operators and development.
type Accounts interface {
	Deposit(ctx context.Context, account, asset string, amount int64) (int64, error)
	Balance(ctx context.Context, account, asset string) (int64, error)
}

// AuditReader exposes the durable audit trail
type AuditReader interface {
	GetSettlement(ctx context.Context, matchID uint64) (*domain.Settlement, error)
	ListEvents(ctx context.Context, matchID uint64, limit int) ([]domain.Event, error)
}

// Handler provides HTTP handlers for the match escrow API
type Handler struct {
	registry    *registry.Registry
	escrow      *escrow.Ledger
	coordinator *settlement.Coordinator
	accounts    Accounts
	audit       AuditReader
	hub         *websocket.Hub
	logger      *slog.Logger
}

// NewHandler creates a new HTTP handler. audit may be nil when no
// durable audit log is configured.
func NewHandler(
	reg *registry.Registry,
	ledger *escrow.Ledger,
	coordinator *settlement.Coordinator,
	accounts Accounts,
	audit AuditReader,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry:    reg,
		escrow:      ledger,
		coordinator: coordinator,
		accounts:    accounts,
		audit:       audit,
		hub:         hub,
		logger:      logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/matches", func(r chi.Router) {
			r.Post("/", h.CreateMatch)
			r.Get("/", h.ListMatches)

			r.Route("/{matchID}", func(r chi.Router) {
				r.Get("/", h.GetMatch)
				r.Get("/wagers", h.GetWagers)
				r.Get("/settlement", h.GetSettlement)
				r.Get("/events", h.ListEvents)
				r.Post("/join", h.JoinMatch)
				r.Post("/stake", h.Stake)
				r.Post("/settle", h.Settle)
				r.Post("/cancel", h.Cancel)
				r.Post("/refund", h.Refund)
			})
		})

		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Post("/deposit", h.Deposit)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a domain error onto an HTTP status. Retriable
// dependency failures surface as 502 so callers can distinguish
// "retry later" from "permanently invalid".
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsNotFoundError(err):
		status = http.StatusNotFound
	case domain.IsConflict(err):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidStake),
		errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrInvalidWinner):
		status = http.StatusBadRequest
	case domain.IsRetryable(err):
		status = http.StatusBadGateway
	default:
		h.logger.Error("request failed", "error", err)
	}

	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// matchIDParam parses the match ID path parameter
func matchIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "matchID"), 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidRequest
	}
	return id, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateMatchRequest represents a request to create a match
type CreateMatchRequest struct {
	Creator     string `json:"creator"`
	GameType    string `json:"game_type"`
	StakeAmount int64  `json:"stake_amount"`
	Asset       string `json:"asset"`
	MaxPlayers  int    `json:"max_players,omitempty"`
}

// CreateMatch handles match creation
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	m, err := h.registry.Create(r.Context(), req.Creator, req.GameType, req.Asset, req.StakeAmount, req.MaxPlayers)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    m,
	})
}

// ListMatches returns all matches
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	matches := h.registry.List()
	if status := r.URL.Query().Get("status"); status != "" {
		matches = h.registry.ListByStatus(domain.MatchStatus(status))
	}
	h.writeSuccess(w, matches)
}

// GetMatch returns a match by ID
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.registry.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, m)
}

// GetWagers returns all wagers for a match
func (h *Handler) GetWagers(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := h.registry.Get(id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, h.escrow.WagersForMatch(id))
}

// GetSettlement returns the settlement record for a match
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.audit == nil {
		h.writeJSON(w, http.StatusNotImplemented, APIResponse{
			Success: false,
			Error:   "audit log not configured",
		})
		return
	}

	st, err := h.audit.GetSettlement(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, st)
}

// ListEvents returns the audit trail for a match
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.audit == nil {
		h.writeJSON(w, http.StatusNotImplemented, APIResponse{
			Success: false,
			Error:   "audit log not configured",
		})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			h.writeError(w, domain.ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	events, err := h.audit.ListEvents(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, events)
}

// JoinRequest represents a request to join a match
type JoinRequest struct {
	Account string `json:"account"`
}

// JoinMatch handles a player joining a match
func (h *Handler) JoinMatch(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	m, err := h.registry.Join(r.Context(), id, req.Account)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, m)
}

// StakeRequest represents a request to stake into escrow
type StakeRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

// Stake handles a participant staking into escrow
func (h *Handler) Stake(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	if err := h.escrow.Stake(r.Context(), id, req.Account, req.Asset); err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.registry.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, m)
}

// SettleRequest represents a manual settlement request
type SettleRequest struct {
	Resolver string `json:"resolver"`
}

// Settle handles manual settlement of a match
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	st, err := h.coordinator.Settle(r.Context(), id, req.Resolver)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, st)
}

// CancelRequest represents an administrative cancel request
type CancelRequest struct {
	Actor string `json:"actor"`
}

// Cancel handles administrative cancellation of a match
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	if err := h.coordinator.Cancel(r.Context(), id, req.Actor); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "cancelled"})
}

// Refund retries refunds for a cancelled match
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := matchIDParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.coordinator.Refund(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "refunded"})
}

// GetBalance returns an account's balance in an asset
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	asset := r.URL.Query().Get("asset")
	if account == "" || asset == "" {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	balance, err := h.accounts.Balance(r.Context(), account, asset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"account": account,
		"asset":   asset,
		"balance": balance,
	})
}

// DepositRequest represents a provisioning deposit
type DepositRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// Deposit credits an account balance
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}
	if account == "" || req.Asset == "" || req.Amount <= 0 {
		h.writeError(w, domain.ErrInvalidRequest)
		return
	}

	balance, err := h.accounts.Deposit(r.Context(), account, req.Asset, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"account": account,
		"asset":   req.Asset,
		"balance": balance,
	})
}
