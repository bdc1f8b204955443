package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/oddsworks/spindle/go/internal/models"
	"github.com/oddsworks/spindle/go/internal/round/controller"
	"github.com/oddsworks/spindle/go/internal/round/gateway"
	"github.com/oddsworks/spindle/go/internal/round/service"
	"github.com/oddsworks/spindle/go/internal/round/store"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

type server struct {
	svc     *service.Service
	gateway *gateway.Manager
}

func newHandler(svc *service.Service, gw *gateway.Manager) http.Handler {
	s := &server{svc: svc, gateway: gw}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/rounds/current", s.handleCurrentRound)
	mux.HandleFunc("POST /api/bets", s.handlePlaceBet)
	mux.HandleFunc("POST /api/coinflips", s.handleCreateCoinflip)
	mux.HandleFunc("POST /api/rounds/{id}/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/rounds/{id}/flip-bot", s.handleFlipBot)
	mux.HandleFunc("GET /api/resolutions/latest", s.handleLatestResolution)
	mux.HandleFunc("GET /ws", s.gateway.ServeWS)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})
	return c.Handler(mux)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type roundResponse struct {
	Round            *models.Round `json:"round"`
	RemainingSeconds int           `json:"remainingSeconds"`
}

func (s *server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	roundType := models.RoundType(r.URL.Query().Get("type"))
	if roundType == "" {
		roundType = models.RoundTypeWheel
	}

	round, err := s.svc.CurrentRound(r.Context(), roundType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, roundResponse{
		Round:            round,
		RemainingSeconds: s.svc.GetRemainingSeconds(round),
	})
}

type placeBetBody struct {
	RoundID     string `json:"roundId"`
	UserID      string `json:"userId"`
	Stake       int64  `json:"stake"`
	PickSection *int   `json:"pickSection,omitempty"`
	PickColor   string `json:"pickColor,omitempty"`
	PickSide    string `json:"pickSide,omitempty"`
}

func (s *server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	var body placeBetBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	roundID, err := uuid.Parse(body.RoundID)
	if err != nil {
		http.Error(w, "invalid round id", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	round, err := s.svc.PlaceBet(r.Context(), controller.PlaceBetRequest{
		RoundID:     roundID,
		UserID:      userID,
		Stake:       body.Stake,
		PickSection: body.PickSection,
		PickColor:   models.WheelColor(body.PickColor),
		PickSide:    models.Side(body.PickSide),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, roundResponse{
		Round:            round,
		RemainingSeconds: s.svc.GetRemainingSeconds(round),
	})
}

type createCoinflipBody struct {
	UserID     string `json:"userId"`
	Stake      int64  `json:"stake"`
	Side       string `json:"side"`
	ClientSeed string `json:"clientSeed,omitempty"`
}

func (s *server) handleCreateCoinflip(w http.ResponseWriter, r *http.Request) {
	var body createCoinflipBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	round, err := s.svc.CreateCoinflip(r.Context(), controller.CreateCoinflipRequest{
		UserID:     userID,
		Stake:      body.Stake,
		Side:       models.Side(body.Side),
		ClientSeed: body.ClientSeed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, roundResponse{Round: round})
}

func (s *server) handleResolve(w http.ResponseWriter, r *http.Request) {
	roundID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid round id", http.StatusBadRequest)
		return
	}
	if err := s.svc.RequestResolve(r.Context(), roundID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleFlipBot(w http.ResponseWriter, r *http.Request) {
	roundID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid round id", http.StatusBadRequest)
		return
	}
	if err := s.svc.FlipAgainstBot(r.Context(), roundID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleLatestResolution(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	ev, err := s.svc.PollLatestResolution(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ev)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrRoundNotFound), errors.Is(err, store.ErrNoResolution):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrCouldNotPlaceBet):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, controller.ErrInvalidRoundType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
