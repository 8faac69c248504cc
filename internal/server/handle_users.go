package server

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
)

type UserProfileResponse struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Elo         int    `json:"elo"`
	GamesPlayed int    `json:"gamesPlayed"`

	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	AvgScore         float64 `json:"avgScore"`
	AvgDistanceError float64 `json:"avgDistanceError"`
	AvgYearError     float64 `json:"avgYearError"`
	BestRoundScore   int     `json:"bestRoundScore"`
	BestGameScore    int     `json:"bestGameScore"`
	CurrentWinStreak int     `json:"currentWinStreak"`
	BestWinStreak    int     `json:"bestWinStreak"`
}

type RecentGameEntry struct {
	GameID            string     `json:"gameId"`
	CategoryKey       string     `json:"categoryKey"`
	OpponentID        string     `json:"opponentId"`
	YourScore         int        `json:"yourScore"`
	OpponentScore     int        `json:"opponentScore"`
	Won               bool       `json:"won"`
	EloAfter          int        `json:"eloAfter"`
	TerminationReason string     `json:"terminationReason,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

func handleGetUser(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		user, err := store.GetUser(r.Context(), userID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		resp := UserProfileResponse{
			UserID:      user.ID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			AvatarURL:   user.AvatarURL,
			Elo:         user.EloRating,
			GamesPlayed: user.GamesPlayed,
		}

		// Stats are absent until the first ranked game completes.
		stats, err := store.StatsByUser(r.Context(), userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err == nil {
			resp.Wins = stats.Wins
			resp.Losses = stats.Losses
			resp.BestRoundScore = stats.BestRoundScore
			resp.BestGameScore = stats.BestGameScore
			resp.CurrentWinStreak = stats.CurrentWinStreak
			resp.BestWinStreak = stats.BestWinStreak
			if stats.TotalGames > 0 {
				resp.AvgScore = round1(float64(stats.TotalScore) / float64(stats.TotalGames))
			}
			if stats.TotalRounds > 0 {
				resp.AvgDistanceError = round1(stats.TotalDistanceError / float64(stats.TotalRounds))
				resp.AvgYearError = round1(float64(stats.TotalYearError) / float64(stats.TotalRounds))
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleUserGames(store Store) http.HandlerFunc {
	const recentGamesLimit = 20

	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		games, err := store.RecentGamesByUser(r.Context(), userID, recentGamesLimit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		entries := make([]RecentGameEntry, 0, len(games))
		for _, g := range games {
			entries = append(entries, recentGameEntry(g, userID))
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// recentGameEntry reorients a game record around one of its two
// players.
func recentGameEntry(g chronoquiz.Game, userID string) RecentGameEntry {
	entry := RecentGameEntry{
		GameID:            g.ID,
		CategoryKey:       g.CategoryKey,
		Won:               g.WinnerID == userID && g.WinnerID != "",
		TerminationReason: g.TerminationReason,
		CompletedAt:       g.CompletedAt,
	}
	if g.Player1ID == userID {
		entry.OpponentID = g.Player2ID
		entry.YourScore = g.Player1Score
		entry.OpponentScore = g.Player2Score
		entry.EloAfter = g.Player1EloAfter
	} else {
		entry.OpponentID = g.Player1ID
		entry.YourScore = g.Player2Score
		entry.OpponentScore = g.Player1Score
		entry.EloAfter = g.Player2EloAfter
	}
	return entry
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
