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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"touchline/internal/auth"
	"touchline/internal/config"
	"touchline/internal/market"
)

type contextKey string

const userContextKey contextKey = "user"

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	auth   *auth.Service
	market *market.Service
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, authSvc *auth.Service, marketSvc *market.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		auth:   authSvc,
		market: marketSvc,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/team", s.handleTeam)
			r.Get("/market", s.handleMarket)
			r.Post("/market/listings", s.handleListPlayer)
			r.Delete("/market/listings/{playerID}", s.handleDelistPlayer)
			r.Post("/market/purchase", s.handlePurchase)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userContextKey).(int64)
	if !ok || userID == 0 {
		return 0, errors.New("missing auth context")
	}
	return userID, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := s.auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.log.Error("login failed", "err", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
		},
	})
}

func (s *Server) handleTeam(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	team, err := s.market.TeamByOwner(r.Context(), userID)
	if err != nil {
		if errors.Is(err, market.ErrNoTeam) {
			writeError(w, http.StatusNotFound, "team not provisioned yet")
			return
		}
		s.log.Error("team load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "team load failed")
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := market.ListedPlayersFilter{
		PlayerName: strings.TrimSpace(q.Get("player_name")),
		TeamName:   strings.TrimSpace(q.Get("team_name")),
	}
	if v := strings.TrimSpace(q.Get("position")); v != "" {
		pos, err := market.ParsePosition(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Position = pos
	}
	if v := strings.TrimSpace(q.Get("min_price")); v != "" {
		micros, err := market.ParseMoney(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("min_price: %v", err))
			return
		}
		filter.MinPriceMicros = &micros
	}
	if v := strings.TrimSpace(q.Get("max_price")); v != "" {
		micros, err := market.ParseMoney(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("max_price: %v", err))
			return
		}
		filter.MaxPriceMicros = &micros
	}
	players, err := s.market.ListedPlayers(r.Context(), filter)
	if err != nil {
		s.log.Error("market query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "market query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": players})
}

func (s *Server) handleListPlayer(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		PlayerID int64  `json:"player_id"`
		Price    string `json:"price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	priceMicros, err := market.ParseMoney(in.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("price: %v", err))
		return
	}
	player, err := s.market.ListPlayer(r.Context(), userID, in.PlayerID, priceMicros)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (s *Server) handleDelistPlayer(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	playerID, err := strconv.ParseInt(chi.URLParam(r, "playerID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player id")
		return
	}
	player, err := s.market.DelistPlayer(r.Context(), userID, playerID)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		PlayerID int64  `json:"player_id"`
		Price    string `json:"price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offerMicros, err := market.ParseMoney(in.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("price: %v", err))
		return
	}
	player, err := s.market.BuyPlayer(r.Context(), userID, in.PlayerID, offerMicros)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// writeMarketError translates engine outcomes to status codes: listing
// ambiguity and missing players are 404 (existence is not leaked), other
// business rejections are 409, transient conflicts are 503 retryable.
func (s *Server) writeMarketError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrListingConflict), errors.Is(err, market.ErrPlayerNotFound):
		writeError(w, http.StatusNotFound, "player not found or not owned")
	case errors.Is(err, market.ErrNotEligible):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, market.ErrTxConflict):
		writeError(w, http.StatusServiceUnavailable, "busy, retry the purchase")
	case errors.Is(err, market.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("market operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
