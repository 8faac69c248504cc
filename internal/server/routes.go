package server

import (
	"database/sql"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playhistoric/chronoquiz/internal/catalog"
)

func addRoutes(
	r chi.Router,
	logger *slog.Logger,
	db *sql.DB,
	store Store,
	cat *catalog.Catalog,
	jwtSecret string,
	mm *Matchmaker,
	coord *Coordinator,
	learn *LearningManager,
) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("ChronoQuiz API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(logger, db))
	r.Get("/ws", handleWS(logger, jwtSecret, store, mm, coord, learn))

	r.Route("/api", func(r chi.Router) {
		r.Get("/categories", handleCategories(cat))
		r.Get("/leaderboard", handleLeaderboard(store))
		r.Get("/users/{id}", handleGetUser(store))
		r.Get("/users/{id}/games", handleUserGames(store))
	})
}
