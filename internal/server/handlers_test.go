package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/playhistoric/chronoquiz/internal/catalog"
	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
)

func apiRouter(t *testing.T) (*chi.Mux, *SQLiteStore) {
	t.Helper()
	store := setupStore(t)

	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}

	r := chi.NewRouter()
	r.Get("/api/categories", handleCategories(cat))
	r.Get("/api/leaderboard", handleLeaderboard(store))
	r.Get("/api/users/{id}", handleGetUser(store))
	r.Get("/api/users/{id}/games", handleUserGames(store))
	return r, store
}

func doGet(t *testing.T, r http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding %s response: %v", path, err)
		}
	}
	return rec
}

func TestHandleCategories(t *testing.T) {
	r, _ := apiRouter(t)

	var entries []CategoryListEntry
	rec := doGet(t, r, "/api/categories", &entries)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if len(entries) != 6 {
		t.Fatalf("%d categories, want 6", len(entries))
	}
	for _, e := range entries {
		if e.EventCount == 0 {
			t.Errorf("category %q: no events", e.Key)
		}
	}
}

func TestHandleLeaderboard(t *testing.T) {
	r, store := apiRouter(t)
	ctx := context.Background()

	seedUser(t, store, "u1", 1200)
	if err := store.UpdateUserRating(ctx, "u1", 1200); err != nil {
		t.Fatal(err)
	}

	var entries []LeaderboardEntry
	rec := doGet(t, r, "/api/leaderboard", &entries)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if len(entries) != 1 || entries[0].UserID != "u1" {
		t.Errorf("entries = %+v", entries)
	}

	rec = doGet(t, r, "/api/leaderboard?limit=banana", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d, want 400", rec.Code)
	}
}

func TestHandleGetUser(t *testing.T) {
	r, store := apiRouter(t)
	ctx := context.Background()

	seedUser(t, store, "u1", 1000)
	if err := store.UpdateStatsAfterGame(ctx, "u1", 6000, true, chronoquiz.RoundStats{
		TotalScore: 6000, TotalDistanceError: 2000, TotalYearError: 500,
		RoundCount: 10, BestRoundScore: 950,
	}); err != nil {
		t.Fatal(err)
	}

	var profile UserProfileResponse
	rec := doGet(t, r, "/api/users/u1", &profile)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if profile.Username != "user-u1" || profile.Wins != 1 {
		t.Errorf("profile = %+v", profile)
	}
	if profile.AvgScore != 6000 {
		t.Errorf("avg score %v, want 6000", profile.AvgScore)
	}
	if profile.AvgDistanceError != 200 || profile.AvgYearError != 50 {
		t.Errorf("avg errors %v/%v, want 200/50", profile.AvgDistanceError, profile.AvgYearError)
	}

	rec = doGet(t, r, "/api/users/nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing user: status %d, want 404", rec.Code)
	}
}

func TestHandleUserGames(t *testing.T) {
	r, store := apiRouter(t)
	ctx := context.Background()

	seedUser(t, store, "u1", 1000)
	seedUser(t, store, "u2", 1000)

	if err := store.CreateGame(ctx, chronoquiz.Game{
		ID: "g1", CategoryKey: "battles", Player1ID: "u2", Player2ID: "u1",
		Player1EloBefore: 1000, Player2EloBefore: 1000, IsRanked: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteGame(ctx, GameCompletion{
		GameID: "g1", Player1Score: 4000, Player2Score: 7000, WinnerID: "u1",
		Player1EloAfter: 984, Player2EloAfter: 1016, TerminationReason: "completed",
	}); err != nil {
		t.Fatal(err)
	}

	var games []RecentGameEntry
	rec := doGet(t, r, "/api/users/u1/games", &games)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if len(games) != 1 {
		t.Fatalf("%d games, want 1", len(games))
	}
	g := games[0]
	// u1 was player 2 in this record; the entry is reoriented.
	if g.OpponentID != "u2" || g.YourScore != 7000 || g.OpponentScore != 4000 {
		t.Errorf("entry = %+v", g)
	}
	if !g.Won || g.EloAfter != 1016 {
		t.Errorf("entry = %+v", g)
	}
}

func TestHealthz(t *testing.T) {
	store := setupStore(t)
	_ = store

	r := chi.NewRouter()
	r.Get("/healthz", handleHealth(discardLogger(), store.db))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var checks map[string]struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &checks); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if checks["sqlite"].Status != "ok" {
		t.Errorf("sqlite status %q", checks["sqlite"].Status)
	}
}

func TestOpenAPISpecMarshals(t *testing.T) {
	rec := httptest.NewRecorder()
	handleOpenAPI()(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var spec map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &spec); err != nil {
		t.Fatalf("spec is not valid JSON: %v", err)
	}
	if _, ok := spec["paths"]; !ok {
		t.Error("spec has no paths")
	}
}
