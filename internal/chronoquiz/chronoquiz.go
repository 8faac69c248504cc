// Package chronoquiz defines the core domain types shared across the
// server, store, and learning packages. It has zero external
// dependencies — everything here is pure Go.
package chronoquiz

import "time"

// Event is one guessable historical event. Events are immutable and
// sourced from the static catalog at startup.
type Event struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Year     int     `json:"year"`
	Location string  `json:"location"`
}

// Category groups events and carries the map/timeline bounds the client
// needs to render a round.
type Category struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	MapCenter   [2]float64 `json:"mapCenter"`
	MapZoom     int        `json:"mapZoom"`
	TimelineMin int        `json:"timelineMin"`
	TimelineMax int        `json:"timelineMax"`
	Events      []Event    `json:"events"`
}

type User struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	EloRating   int
	GamesPlayed int
	IsGuest     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type GameStatus string

const (
	GameStatusWaiting GameStatus = "waiting"
	GameStatusPlaying GameStatus = "playing"
)

// Game is the persisted record of a ranked two-player match.
type Game struct {
	ID                string
	CategoryKey       string
	Player1ID         string
	Player2ID         string
	Player1Score      int
	Player2Score      int
	Player1EloBefore  int
	Player2EloBefore  int
	Player1EloAfter   int
	Player2EloAfter   int
	WinnerID          string
	IsRanked          bool
	TerminationReason string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// Round is the persisted archive of one completed round of a ranked game.
type Round struct {
	GameID      string
	RoundNumber int
	EventName   string
	EventLat    float64
	EventLng    float64
	EventYear   int
	Player1     RoundGuess
	Player2     RoundGuess
}

// RoundGuess is one player's answer within an archived round.
type RoundGuess struct {
	GuessLat   float64
	GuessLng   float64
	GuessYear  int
	DistanceKm float64
	YearError  int
	TimeLeft   float64
	Score      int
}

// RoundStats aggregates a player's rounds of one game for the stats
// update after a ranked match.
type RoundStats struct {
	TotalScore         int
	TotalDistanceError float64
	TotalYearError     int
	RoundCount         int
	BestRoundScore     int
}

// UserStats is the running aggregate over all of a user's ranked games.
type UserStats struct {
	UserID             string
	TotalGames         int
	Wins               int
	Losses             int
	TotalScore         int
	TotalDistanceError float64
	TotalYearError     int
	TotalRounds        int
	BestRoundScore     int
	BestGameScore      int
	CurrentWinStreak   int
	BestWinStreak      int
}

// LearningProgress is the SM-2 state for one user × category × event.
type LearningProgress struct {
	UserID             string
	CategoryKey        string
	EventName          string
	LastQuality        int
	LastYearError      int
	LastDistanceKm     float64
	EaseFactor         float64
	IntervalDays       int
	Repetitions        int
	NextReview         time.Time
	LastReview         time.Time
	TotalAttempts      int
	SuccessfulAttempts int
}
