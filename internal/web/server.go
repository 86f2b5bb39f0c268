// Package web provides the HTTP handlers over the core engines. Handlers
// are thin glue: decode, delegate, map errors to status codes.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JAM-Corp/CryptoFantasy/internal/auth"
	"github.com/JAM-Corp/CryptoFantasy/internal/league"
	"github.com/JAM-Corp/CryptoFantasy/internal/ledger"
	"github.com/JAM-Corp/CryptoFantasy/internal/model"
	"github.com/JAM-Corp/CryptoFantasy/internal/registry"
	"github.com/JAM-Corp/CryptoFantasy/internal/schedule"
	"github.com/JAM-Corp/CryptoFantasy/internal/standings"
	"github.com/JAM-Corp/CryptoFantasy/internal/store"
)

// Server wires the core services to HTTP routes.
type Server struct {
	store     store.Store
	engine    *ledger.Engine
	valuator  *ledger.Valuator
	leagues   *league.Service
	standings *standings.Service
	hub       *WSHub
	log       *slog.Logger
}

// NewServer creates the HTTP surface. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewServer(st store.Store, engine *ledger.Engine, valuator *ledger.Valuator,
	leagues *league.Service, st2 *standings.Service, hub *WSHub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     st,
		engine:    engine,
		valuator:  valuator,
		leagues:   leagues,
		standings: st2,
		hub:       hub,
		log:       logger,
	}
}

// Routes mounts all handlers under /api/v1.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Post("/register", s.Register)
		r.Post("/login", s.Login)

		r.Get("/users/{userID}/dashboard", s.GetDashboard)

		r.Post("/leagues", s.CreateLeague)
		r.Post("/leagues/join", s.JoinLeague)
		r.Get("/leagues/{leagueID}", s.GetLeague)
		r.Get("/leagues/{leagueID}/schedule", s.GetSchedule)
		r.Get("/leagues/{leagueID}/standings", s.GetStandings)
		r.Get("/leagues/{leagueID}/portfolio/{userID}", s.GetPortfolio)
		r.Get("/leagues/{leagueID}/portfolio/{userID}/value", s.GetValueAt)

		r.Post("/trade", s.ExecuteTrade)

		r.Get("/prices/{asset}/history", s.GetPriceHistory)
	})
}

// --- Request/Response types ---

// CredentialsRequest is the JSON body for register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	UserID   string          `json:"user_id"`
	LeagueID string          `json:"league_id"`
	Asset    string          `json:"asset"`
	Side     string          `json:"side"` // "BUY" or "SELL"
	Quantity decimal.Decimal `json:"quantity"`
}

// JoinLeagueRequest is the JSON body for POST /leagues/join.
type JoinLeagueRequest struct {
	UserID   string `json:"user_id"`
	JoinCode string `json:"join_code"`
}

// CreateLeagueRequest is the JSON body for POST /leagues.
type CreateLeagueRequest struct {
	UserID string `json:"user_id"`
	league.CreateInput
}

// --- Auth handlers ---

// Register handles POST /api/v1/register.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		writeError(w, "username and a password of at least 8 characters are required", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, "could not hash password", http.StatusInternalServerError)
		return
	}
	u := &model.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, "username already taken", http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.Info("user registered", "user", u.ID, "username", u.Username)
	writeJSON(w, http.StatusCreated, u)
}

// Login handles POST /api/v1/login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	u, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		writeError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetDashboard handles GET /api/v1/users/{userID}/dashboard. Ensures the
// user's implicit solo league exists, then returns all league memberships
// with the solo league's current valuation.
func (s *Server) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	solo, err := s.leagues.EnsureSoloLeague(ctx, u.ID, u.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	leagues, err := s.store.ListLeaguesFor(ctx, u.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	val, err := s.valuator.ValueAt(ctx, u.ID, solo.ID, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":        u,
		"solo_league": solo,
		"leagues":     leagues,
		"portfolio":   val,
	})
}

// --- League handlers ---

// CreateLeague handles POST /api/v1/leagues.
func (s *Server) CreateLeague(w http.ResponseWriter, r *http.Request) {
	var req CreateLeagueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	req.CreateInput.OwnerID = req.UserID

	l, err := s.leagues.Create(r.Context(), req.CreateInput)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// JoinLeague handles POST /api/v1/leagues/join.
func (s *Server) JoinLeague(w http.ResponseWriter, r *http.Request) {
	var req JoinLeagueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.JoinCode == "" {
		writeError(w, "user_id and join_code are required", http.StatusBadRequest)
		return
	}

	l, err := s.leagues.Join(r.Context(), req.UserID, req.JoinCode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// GetLeague handles GET /api/v1/leagues/{leagueID}.
func (s *Server) GetLeague(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")

	l, err := s.store.GetLeague(r.Context(), leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	members, err := s.store.MembersOf(r.Context(), leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"league":  l,
		"members": members,
	})
}

// GetSchedule handles GET /api/v1/leagues/{leagueID}/schedule.
// The schedule is recomputed from the roster on every request.
func (s *Server) GetSchedule(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")

	l, err := s.store.GetLeague(r.Context(), leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	members, err := s.store.MembersOf(r.Context(), leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rounds, err := schedule.Generate(l, members)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

// GetStandings handles GET /api/v1/leagues/{leagueID}/standings.
// Completed leagues report their stored champion; ?at= runs a historical
// standings query against the immutable trade history.
func (s *Server) GetStandings(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")
	ctx := r.Context()

	l, err := s.store.GetLeague(ctx, leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	members, err := s.store.MembersOf(ctx, leagueID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	asOf := time.Now().UTC()
	historical := false
	if at := r.URL.Query().Get("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeError(w, "at must be RFC3339", http.StatusBadRequest)
			return
		}
		asOf = parsed.UTC()
		historical = true
	}

	if !historical {
		l, err = s.standings.MaybeFinalize(ctx, l, members)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if l.Status == model.LeagueCompleted {
			writeJSON(w, http.StatusOK, map[string]any{
				"league":    l,
				"winner_id": l.WinnerID,
			})
			return
		}
	}

	table, err := s.standings.ComputeStandings(ctx, l, members, asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"league":    l,
		"as_of":     asOf,
		"standings": table,
	})
}

// --- Trading & valuation handlers ---

// ExecuteTrade handles POST /api/v1/trade. Executes instantly at the latest
// known price and returns the fresh portfolio snapshot.
func (s *Server) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.LeagueID == "" {
		writeError(w, "user_id and league_id are required", http.StatusBadRequest)
		return
	}

	snap, err := s.engine.ExecuteTrade(r.Context(), req.UserID, req.LeagueID, req.Asset, req.Side, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:     "trade_executed",
			Asset:    req.Asset,
			Side:     req.Side,
			Quantity: req.Quantity.String(),
			LeagueID: req.LeagueID,
		})
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetPortfolio handles GET /api/v1/leagues/{leagueID}/portfolio/{userID}.
// Provisions the portfolio lazily on first access.
func (s *Server) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	if _, err := s.store.EnsurePortfolio(ctx, userID, leagueID); err != nil {
		writeDomainError(w, err)
		return
	}
	val, err := s.valuator.ValueAt(ctx, userID, leagueID, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, val)
}

// GetValueAt handles GET .../portfolio/{userID}/value?at=RFC3339.
func (s *Server) GetValueAt(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")
	userID := chi.URLParam(r, "userID")

	asOf := time.Now().UTC()
	if at := r.URL.Query().Get("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeError(w, "at must be RFC3339", http.StatusBadRequest)
			return
		}
		asOf = parsed.UTC()
	}

	val, err := s.valuator.ValueAt(r.Context(), userID, leagueID, asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, val)
}

// GetPriceHistory handles GET /api/v1/prices/{asset}/history?from=&to=.
// Defaults to the trailing 24 hours.
func (s *Server) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	asset, err := registry.Normalize(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
	}

	points, err := s.store.PriceHistory(r.Context(), asset, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if points == nil {
		points = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Error mapping ---

// writeDomainError maps core sentinel errors onto HTTP statuses: bad input
// → 400, unknown entities → 404, business-rule rejections → 409, missing
// price → 503 (retry later), everything else → 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidSide),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, registry.ErrInvalidAssetID),
		errors.Is(err, league.ErrBadName),
		errors.Is(err, league.ErrBadFrequency),
		errors.Is(err, league.ErrBadCapacity),
		errors.Is(err, schedule.ErrBadStart),
		errors.Is(err, schedule.ErrBadFrequency),
		errors.Is(err, standings.ErrEmptyRoster):
		writeError(w, err.Error(), http.StatusBadRequest)

	case errors.Is(err, registry.ErrUnknownAsset):
		writeError(w, err.Error(), http.StatusBadRequest)

	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)

	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientHoldings),
		errors.Is(err, store.ErrLeagueFull),
		errors.Is(err, store.ErrDuplicate):
		writeError(w, err.Error(), http.StatusConflict)

	case errors.Is(err, ledger.ErrPriceUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)

	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
