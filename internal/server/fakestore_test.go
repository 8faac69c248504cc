package server

import (
	"context"
	"sync"
	"time"

	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
)

// fakeStore is an in-memory Store for coordinator and learning tests.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]chronoquiz.User
	games       map[string]chronoquiz.Game
	rounds      []chronoquiz.Round
	completions []GameCompletion
	statCalls   []fakeStatCall
	progress    map[string]chronoquiz.LearningProgress

	failUpsertProgress bool
}

type fakeStatCall struct {
	userID    string
	gameScore int
	won       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]chronoquiz.User),
		games:    make(map[string]chronoquiz.Game),
		progress: make(map[string]chronoquiz.LearningProgress),
	}
}

func progressKey(userID, categoryKey, eventName string) string {
	return userID + "|" + categoryKey + "|" + eventName
}

func (s *fakeStore) CreateUser(_ context.Context, u chronoquiz.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		existing.Username = u.Username
		existing.DisplayName = u.DisplayName
		existing.AvatarURL = u.AvatarURL
		s.users[u.ID] = existing
		return nil
	}
	s.users[u.ID] = u
	return nil
}

func (s *fakeStore) GetUser(_ context.Context, id string) (chronoquiz.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return chronoquiz.User{}, ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) UpdateUserRating(_ context.Context, userID string, newRating int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.EloRating = newRating
	u.GamesPlayed++
	s.users[userID] = u
	return nil
}

func (s *fakeStore) Leaderboard(_ context.Context, limit int) ([]LeaderboardEntry, error) {
	return nil, nil
}

func (s *fakeStore) CreateGame(_ context.Context, g chronoquiz.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g
	return nil
}

func (s *fakeStore) CompleteGame(_ context.Context, c GameCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, c)
	return nil
}

func (s *fakeStore) SaveRound(_ context.Context, r chronoquiz.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, r)
	return nil
}

func (s *fakeStore) RecentGamesByUser(_ context.Context, userID string, limit int) ([]chronoquiz.Game, error) {
	return nil, nil
}

func (s *fakeStore) UpdateStatsAfterGame(_ context.Context, userID string, gameScore int, won bool, _ chronoquiz.RoundStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statCalls = append(s.statCalls, fakeStatCall{userID: userID, gameScore: gameScore, won: won})
	return nil
}

func (s *fakeStore) StatsByUser(_ context.Context, userID string) (chronoquiz.UserStats, error) {
	return chronoquiz.UserStats{UserID: userID}, nil
}

func (s *fakeStore) ProgressByCategory(_ context.Context, userID, categoryKey string) ([]chronoquiz.LearningProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []chronoquiz.LearningProgress
	for _, p := range s.progress {
		if p.UserID == userID && p.CategoryKey == categoryKey {
			records = append(records, p)
		}
	}
	return records, nil
}

func (s *fakeStore) UpsertProgress(_ context.Context, u ProgressUpdate) (chronoquiz.LearningProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsertProgress {
		return chronoquiz.LearningProgress{}, context.DeadlineExceeded
	}

	key := progressKey(u.UserID, u.CategoryKey, u.EventName)
	p := s.progress[key]
	p.UserID = u.UserID
	p.CategoryKey = u.CategoryKey
	p.EventName = u.EventName
	p.LastQuality = u.Quality
	p.LastYearError = u.YearError
	p.LastDistanceKm = u.DistanceKm
	p.EaseFactor = u.EaseFactor
	p.IntervalDays = u.IntervalDays
	p.Repetitions = u.Repetitions
	if next, err := time.Parse(time.RFC3339, u.NextReview); err == nil {
		p.NextReview = next
	}
	p.LastReview = time.Now()
	p.TotalAttempts++
	if u.Quality >= 3 {
		p.SuccessfulAttempts++
	}
	s.progress[key] = p
	return p, nil
}
