package server

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// CreateUser inserts the user, or refreshes profile fields when the row
// already exists. Rating and games played are owned by the game
// results path and never touched here.
func (s *SQLiteStore) CreateUser(ctx context.Context, u chronoquiz.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, avatar_url, elo_rating, games_played, is_guest)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, u.ID, u.Username, u.DisplayName, u.AvatarURL, u.EloRating, u.GamesPlayed, boolToInt(u.IsGuest))
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (chronoquiz.User, error) {
	var u chronoquiz.User
	var isGuest int
	var displayName, avatarURL sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar_url, elo_rating, games_played, is_guest
		FROM users
		WHERE id = ?
	`, id).Scan(&u.ID, &u.Username, &displayName, &avatarURL, &u.EloRating, &u.GamesPlayed, &isGuest)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	u.DisplayName = displayName.String
	u.AvatarURL = avatarURL.String
	u.IsGuest = isGuest != 0
	return u, err
}

func (s *SQLiteStore) UpdateUserRating(ctx context.Context, userID string, newRating int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET elo_rating = ?, games_played = games_played + 1,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?
	`, newRating, userID)
	return err
}

func (s *SQLiteStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, display_name, avatar_url, elo_rating, games_played
		FROM users
		WHERE is_guest = 0 AND games_played > 0
		ORDER BY elo_rating DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LeaderboardEntry{}
	for rows.Next() {
		var e LeaderboardEntry
		var displayName, avatarURL sql.NullString
		if err := rows.Scan(&e.UserID, &e.Username, &displayName, &avatarURL, &e.EloRating, &e.GamesPlayed); err != nil {
			return nil, err
		}
		e.DisplayName = displayName.String
		e.AvatarURL = avatarURL.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) CreateGame(ctx context.Context, g chronoquiz.Game) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO games (id, category_key, player1_id, player2_id,
		                   player1_elo_before, player2_elo_before, is_ranked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.CategoryKey, g.Player1ID, g.Player2ID,
		g.Player1EloBefore, g.Player2EloBefore, boolToInt(g.IsRanked))
	return err
}

func (s *SQLiteStore) CompleteGame(ctx context.Context, c GameCompletion) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET player1_score = ?, player2_score = ?, winner_id = ?,
		    player1_elo_after = ?, player2_elo_after = ?, termination_reason = ?,
		    completed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?
	`, c.Player1Score, c.Player2Score, nullIfEmpty(c.WinnerID),
		c.Player1EloAfter, c.Player2EloAfter, c.TerminationReason, c.GameID)
	return err
}

func (s *SQLiteStore) SaveRound(ctx context.Context, r chronoquiz.Round) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_rounds
		    (game_id, round_number, event_name, event_lat, event_lng, event_year,
		     player1_guess_lat, player1_guess_lng, player1_guess_year,
		     player1_distance_km, player1_year_error, player1_time_left, player1_score,
		     player2_guess_lat, player2_guess_lng, player2_guess_year,
		     player2_distance_km, player2_year_error, player2_time_left, player2_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.GameID, r.RoundNumber, r.EventName, r.EventLat, r.EventLng, r.EventYear,
		r.Player1.GuessLat, r.Player1.GuessLng, r.Player1.GuessYear,
		r.Player1.DistanceKm, r.Player1.YearError, r.Player1.TimeLeft, r.Player1.Score,
		r.Player2.GuessLat, r.Player2.GuessLng, r.Player2.GuessYear,
		r.Player2.DistanceKm, r.Player2.YearError, r.Player2.TimeLeft, r.Player2.Score)
	return err
}

func (s *SQLiteStore) RecentGamesByUser(ctx context.Context, userID string, limit int) ([]chronoquiz.Game, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category_key, player1_id, player2_id, player1_score, player2_score,
		       player1_elo_before, player2_elo_before,
		       COALESCE(player1_elo_after, player1_elo_before),
		       COALESCE(player2_elo_after, player2_elo_before),
		       COALESCE(winner_id, ''), is_ranked, COALESCE(termination_reason, ''),
		       completed_at
		FROM games
		WHERE (player1_id = ? OR player2_id = ?) AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT ?
	`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	games := []chronoquiz.Game{}
	for rows.Next() {
		var g chronoquiz.Game
		var isRanked int
		var completedAt sql.NullString
		if err := rows.Scan(&g.ID, &g.CategoryKey, &g.Player1ID, &g.Player2ID,
			&g.Player1Score, &g.Player2Score,
			&g.Player1EloBefore, &g.Player2EloBefore,
			&g.Player1EloAfter, &g.Player2EloAfter,
			&g.WinnerID, &isRanked, &g.TerminationReason, &completedAt); err != nil {
			return nil, err
		}
		g.IsRanked = isRanked != 0
		if completedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
				g.CompletedAt = &t
			}
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

func (s *SQLiteStore) UpdateStatsAfterGame(ctx context.Context, userID string, gameScore int, won bool, stats chronoquiz.RoundStats) error {
	wins, losses := 0, 1
	if won {
		wins, losses = 1, 0
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_stats
		    (user_id, total_games, wins, losses, total_score, total_distance_error,
		     total_year_error, total_rounds, best_round_score, best_game_score,
		     current_win_streak, best_win_streak)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
		    total_games = total_games + 1,
		    wins = wins + excluded.wins,
		    losses = losses + excluded.losses,
		    total_score = total_score + excluded.total_score,
		    total_distance_error = total_distance_error + excluded.total_distance_error,
		    total_year_error = total_year_error + excluded.total_year_error,
		    total_rounds = total_rounds + excluded.total_rounds,
		    best_round_score = MAX(best_round_score, excluded.best_round_score),
		    best_game_score = MAX(best_game_score, excluded.best_game_score),
		    current_win_streak = CASE WHEN excluded.wins = 1 THEN current_win_streak + 1 ELSE 0 END,
		    best_win_streak = MAX(best_win_streak,
		        CASE WHEN excluded.wins = 1 THEN current_win_streak + 1 ELSE current_win_streak END),
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, userID, wins, losses, stats.TotalScore, stats.TotalDistanceError,
		stats.TotalYearError, stats.RoundCount, stats.BestRoundScore, gameScore, wins, wins)
	return err
}

func (s *SQLiteStore) StatsByUser(ctx context.Context, userID string) (chronoquiz.UserStats, error) {
	var st chronoquiz.UserStats
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, total_games, wins, losses, total_score, total_distance_error,
		       total_year_error, total_rounds, best_round_score, best_game_score,
		       current_win_streak, best_win_streak
		FROM user_stats
		WHERE user_id = ?
	`, userID).Scan(&st.UserID, &st.TotalGames, &st.Wins, &st.Losses, &st.TotalScore,
		&st.TotalDistanceError, &st.TotalYearError, &st.TotalRounds,
		&st.BestRoundScore, &st.BestGameScore, &st.CurrentWinStreak, &st.BestWinStreak)
	if errors.Is(err, sql.ErrNoRows) {
		return chronoquiz.UserStats{UserID: userID}, nil
	}
	return st, err
}

func (s *SQLiteStore) ProgressByCategory(ctx context.Context, userID, categoryKey string) ([]chronoquiz.LearningProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, category_key, event_name, last_quality, last_year_error,
		       last_distance_km, ease_factor, interval_days, repetitions,
		       next_review, last_review, total_attempts, successful_attempts
		FROM user_event_progress
		WHERE user_id = ? AND category_key = ?
	`, userID, categoryKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []chronoquiz.LearningProgress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) UpsertProgress(ctx context.Context, u ProgressUpdate) (chronoquiz.LearningProgress, error) {
	successful := 0
	if u.Quality >= 3 {
		successful = 1
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO user_event_progress
		    (user_id, category_key, event_name, last_quality, last_year_error,
		     last_distance_km, ease_factor, interval_days, repetitions,
		     next_review, last_review, total_attempts, successful_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'), 1, ?)
		ON CONFLICT (user_id, category_key, event_name) DO UPDATE SET
		    last_quality = excluded.last_quality,
		    last_year_error = excluded.last_year_error,
		    last_distance_km = excluded.last_distance_km,
		    ease_factor = excluded.ease_factor,
		    interval_days = excluded.interval_days,
		    repetitions = excluded.repetitions,
		    next_review = excluded.next_review,
		    last_review = excluded.last_review,
		    total_attempts = total_attempts + 1,
		    successful_attempts = successful_attempts + excluded.successful_attempts,
		    updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		RETURNING user_id, category_key, event_name, last_quality, last_year_error,
		          last_distance_km, ease_factor, interval_days, repetitions,
		          next_review, last_review, total_attempts, successful_attempts
	`, u.UserID, u.CategoryKey, u.EventName, u.Quality, u.YearError,
		u.DistanceKm, u.EaseFactor, u.IntervalDays, u.Repetitions,
		u.NextReview, successful)
	return scanProgress(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (chronoquiz.LearningProgress, error) {
	var p chronoquiz.LearningProgress
	var nextReview, lastReview string
	err := row.Scan(&p.UserID, &p.CategoryKey, &p.EventName, &p.LastQuality,
		&p.LastYearError, &p.LastDistanceKm, &p.EaseFactor, &p.IntervalDays,
		&p.Repetitions, &nextReview, &lastReview, &p.TotalAttempts, &p.SuccessfulAttempts)
	if err != nil {
		return p, err
	}
	p.NextReview = parseDBTime(nextReview)
	p.LastReview = parseDBTime(lastReview)
	return p, nil
}

func parseDBTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
