// Package elo implements the rating update for finished two-player
// matches.
package elo

import "math"

// Players with fewer than provisionalGames played get the higher
// K-factor so their rating converges faster.
const (
	provisionalGames = 30
	provisionalK     = 32
	establishedK     = 16
)

// Result is one player's rating after a match.
type Result struct {
	NewRating int `json:"newElo"`
	Delta     int `json:"change"`
}

// Change computes a single player's rating update.
func Change(rating, opponentRating int, won bool, gamesPlayed int) Result {
	k := float64(establishedK)
	if gamesPlayed < provisionalGames {
		k = provisionalK
	}

	expected := 1 / (1 + math.Pow(10, float64(opponentRating-rating)/400))

	actual := 0.0
	if won {
		actual = 1.0
	}

	delta := int(math.Round(k * (actual - expected)))
	return Result{NewRating: rating + delta, Delta: delta}
}

// MatchChanges computes both players' updates from their final match
// scores. An equal final score is a tie and changes neither rating:
// single rounds cannot tie, but aggregate match scores can.
func MatchChanges(rating1, rating2, score1, score2, games1, games2 int) (Result, Result) {
	if score1 == score2 {
		return Result{NewRating: rating1}, Result{NewRating: rating2}
	}

	r1 := Change(rating1, rating2, score1 > score2, games1)
	r2 := Change(rating2, rating1, score2 > score1, games2)
	return r1, r2
}
