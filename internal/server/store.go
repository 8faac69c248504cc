package server

import (
	"context"
	"errors"

	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
)

var ErrNotFound = errors.New("not found")

// GameCompletion carries the final state persisted when a ranked game
// ends.
type GameCompletion struct {
	GameID            string
	Player1Score      int
	Player2Score      int
	WinnerID          string
	Player1EloAfter   int
	Player2EloAfter   int
	TerminationReason string
}

// ProgressUpdate is the upsert payload for one learning attempt.
type ProgressUpdate struct {
	UserID       string
	CategoryKey  string
	EventName    string
	Quality      int
	YearError    int
	DistanceKm   float64
	EaseFactor   float64
	IntervalDays int
	Repetitions  int
	NextReview   string // RFC 3339
}

// LeaderboardEntry is one row of the rating leaderboard.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	EloRating   int    `json:"elo"`
	GamesPlayed int    `json:"gamesPlayed"`
}

// Store is the persistence collaborator. Live match state is held in
// memory and is authoritative; store failures are logged and the game
// carries on.
type Store interface {
	CreateUser(ctx context.Context, user chronoquiz.User) error
	GetUser(ctx context.Context, id string) (chronoquiz.User, error)
	UpdateUserRating(ctx context.Context, userID string, newRating int) error
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)

	CreateGame(ctx context.Context, game chronoquiz.Game) error
	CompleteGame(ctx context.Context, c GameCompletion) error
	SaveRound(ctx context.Context, round chronoquiz.Round) error
	RecentGamesByUser(ctx context.Context, userID string, limit int) ([]chronoquiz.Game, error)

	UpdateStatsAfterGame(ctx context.Context, userID string, gameScore int, won bool, stats chronoquiz.RoundStats) error
	StatsByUser(ctx context.Context, userID string) (chronoquiz.UserStats, error)

	ProgressByCategory(ctx context.Context, userID, categoryKey string) ([]chronoquiz.LearningProgress, error)
	UpsertProgress(ctx context.Context, update ProgressUpdate) (chronoquiz.LearningProgress, error)
}
