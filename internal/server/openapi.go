package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse documents the per-dependency health map.
type HealthResponse map[string]struct {
	Status string `json:"status"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "ChronoQuiz API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend API for the ChronoQuiz game. Gameplay runs over the /ws WebSocket; these routes cover discovery, profiles, and the leaderboard.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /ws
	getWS, _ := r.NewOperationContext(http.MethodGet, "/ws")
	getWS.SetSummary("Game WebSocket")
	getWS.SetDescription("Upgrades to the game WebSocket. Pass a JWT as the token query parameter for a registered identity; connections without one play as guests. All lobby, match, and learning traffic uses JSON messages tagged with a type field.")
	getWS.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(getWS)

	// GET /api/categories
	getCategories, _ := r.NewOperationContext(http.MethodGet, "/api/categories")
	getCategories.SetSummary("List categories")
	getCategories.SetDescription("Returns all playable categories with map and timeline bounds.")
	getCategories.AddRespStructure([]CategoryListEntry{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getCategories)

	// GET /api/leaderboard
	getLeaderboard, _ := r.NewOperationContext(http.MethodGet, "/api/leaderboard")
	getLeaderboard.SetSummary("Rating leaderboard")
	getLeaderboard.SetDescription("Returns registered users ranked by rating. Accepts a limit query parameter, capped at 100.")
	getLeaderboard.AddRespStructure([]LeaderboardEntry{}, openapi.WithHTTPStatus(http.StatusOK))
	getLeaderboard.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(getLeaderboard)

	// GET /api/users/{id}
	getUser, _ := r.NewOperationContext(http.MethodGet, "/api/users/{id}")
	getUser.SetSummary("User profile")
	getUser.SetDescription("Returns a user's profile with aggregate ranked-game statistics.")
	getUser.AddRespStructure(UserProfileResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getUser.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getUser)

	// GET /api/users/{id}/games
	getUserGames, _ := r.NewOperationContext(http.MethodGet, "/api/users/{id}/games")
	getUserGames.SetSummary("Recent games")
	getUserGames.SetDescription("Returns a user's most recent completed ranked games, newest first.")
	getUserGames.AddRespStructure([]RecentGameEntry{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getUserGames)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
