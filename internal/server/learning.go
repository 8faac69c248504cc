package server

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/playhistoric/chronoquiz/internal/catalog"
	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
	"github.com/playhistoric/chronoquiz/internal/geo"
	"github.com/playhistoric/chronoquiz/internal/sm2"
)

// learningSession is one connection's solo study session. A session
// holds at most one outstanding event; the next one is only dealt after
// the current one is answered.
type learningSession struct {
	identity    Identity
	categoryKey string
	category    chronoquiz.Category
	records     []chronoquiz.LearningProgress
	current     *chronoquiz.Event
}

// LearningManager runs spaced-repetition study sessions. Unlike
// matches, sessions have no lifecycle of their own: they exist from
// start_learning until the connection drops or starts something else.
type LearningManager struct {
	logger  *slog.Logger
	store   Store
	catalog *catalog.Catalog

	mu       sync.Mutex
	sessions map[Conn]*learningSession

	rng    *rand.Rand
	now    func() time.Time
	maxNew int
}

func NewLearningManager(logger *slog.Logger, store Store, cat *catalog.Catalog) *LearningManager {
	return &LearningManager{
		logger:   logger,
		store:    store,
		catalog:  cat,
		sessions: make(map[Conn]*learningSession),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		maxNew:   sm2.DefaultMaxNewPerSession,
	}
}

// Start opens a session for a registered user and deals the first
// event. Guests have no persistent identity to attach progress to, so
// they are turned away.
func (lm *LearningManager) Start(conn Conn, id Identity, categoryKey string) {
	if id.IsGuest {
		conn.Send(protocolError("sign in to use learning mode"))
		return
	}
	category, ok := lm.catalog.Get(categoryKey)
	if !ok {
		conn.Send(protocolError("unknown category"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	records, err := lm.store.ProgressByCategory(ctx, id.UserID, categoryKey)
	if err != nil {
		lm.logger.Error("progress load failed", "user_id", id.UserID, "category", categoryKey, "error", err)
		conn.Send(protocolError("could not load learning progress"))
		return
	}

	session := &learningSession{
		identity:    id,
		categoryKey: categoryKey,
		category:    category,
		records:     records,
	}
	lm.mu.Lock()
	lm.sessions[conn] = session
	lm.mu.Unlock()

	lm.logger.Info("learning session started", "username", id.Username, "category", categoryKey)

	conn.Send(learningStartedMsg{
		Type:     "learning_started",
		Category: categoryInfoFor(category),
		Stats:    lm.statsFor(session),
	})
	lm.Next(conn)
}

// Next deals the session's next event, chosen by review priority. The
// event's coordinates and year stay hidden until the answer comes back.
func (lm *LearningManager) Next(conn Conn) {
	lm.mu.Lock()
	session := lm.sessions[conn]
	if session == nil {
		lm.mu.Unlock()
		conn.Send(protocolError("no learning session"))
		return
	}
	if session.current != nil {
		lm.mu.Unlock()
		conn.Send(protocolError("answer the current event first"))
		return
	}
	userID := session.identity.UserID
	categoryKey := session.categoryKey
	lm.mu.Unlock()

	// Progress may have moved under us from another connection for the
	// same user, so selection always works from fresh store state.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	records, err := lm.store.ProgressByCategory(ctx, userID, categoryKey)

	lm.mu.Lock()
	session = lm.sessions[conn]
	if session == nil || session.current != nil {
		lm.mu.Unlock()
		return
	}
	if err != nil {
		lm.logger.Error("progress reload failed", "user_id", userID, "category", categoryKey, "error", err)
	} else {
		session.records = records
	}

	sel := sm2.SelectNextEvent(session.category.Events, session.records, lm.maxNew, lm.now(), lm.rng)
	event := sel.Event
	session.current = &event
	attempts, reps := 0, 0
	if sel.Progress != nil {
		attempts = sel.Progress.TotalAttempts
		reps = sel.Progress.Repetitions
	}
	category := session.category
	lm.mu.Unlock()

	conn.Send(learningEventMsg{
		Type:        "learning_event",
		EventName:   event.Name,
		Category:    categoryInfoFor(category),
		Learnedness: sm2.EventLearnedness(sel.Progress),
		Attempts:    attempts,
		Repetitions: reps,
	})
}

// Submit grades the answer for the outstanding event, advances its SM-2
// state, persists it, and reveals the correct answer. An answer with no
// outstanding event is a protocol error.
func (lm *LearningManager) Submit(conn Conn, msg clientMessage) {
	lm.mu.Lock()
	session := lm.sessions[conn]
	if session == nil {
		lm.mu.Unlock()
		conn.Send(protocolError("no learning session"))
		return
	}
	if session.current == nil {
		lm.mu.Unlock()
		conn.Send(protocolError("no event in progress"))
		return
	}
	event := *session.current
	session.current = nil
	record := session.recordFor(event.Name)
	lm.mu.Unlock()

	distance := geo.DistanceKm(msg.GuessLat, msg.GuessLng, event.Lat, event.Lng)
	yearError := abs(msg.GuessYear - event.Year)
	quality := sm2.Quality(yearError, distance)
	review := sm2.NextReview(record, quality, lm.now())

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	updated, err := lm.store.UpsertProgress(ctx, ProgressUpdate{
		UserID:       session.identity.UserID,
		CategoryKey:  session.categoryKey,
		EventName:    event.Name,
		Quality:      quality,
		YearError:    yearError,
		DistanceKm:   distance,
		EaseFactor:   review.EaseFactor,
		IntervalDays: review.IntervalDays,
		Repetitions:  review.Repetitions,
		NextReview:   review.NextReview.UTC().Format(time.RFC3339),
	})
	if err != nil {
		lm.logger.Error("progress upsert failed",
			"user_id", session.identity.UserID,
			"event", event.Name,
			"error", err)
		conn.Send(protocolError("could not save learning progress"))
		return
	}

	lm.mu.Lock()
	session.replaceRecord(updated)
	stats := lm.statsFor(session)
	lm.mu.Unlock()

	conn.Send(learningResultMsg{
		Type:         "learning_result",
		Event:        event,
		DistanceKm:   distance,
		YearError:    yearError,
		Quality:      quality,
		Learnedness:  sm2.EventLearnedness(&updated),
		NextReview:   review.NextReview.UTC().Format(time.RFC3339),
		IntervalDays: review.IntervalDays,
		Repetitions:  review.Repetitions,
		Stats:        stats,
	})
}

// Drop discards the connection's session, if any.
func (lm *LearningManager) Drop(conn Conn) {
	lm.mu.Lock()
	delete(lm.sessions, conn)
	lm.mu.Unlock()
}

// InSession reports whether the connection has an active learning
// session.
func (lm *LearningManager) InSession(conn Conn) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.sessions[conn] != nil
}

// recordFor returns the session's progress record for an event, or nil
// if the event has never been attempted. Caller holds lm.mu.
func (s *learningSession) recordFor(eventName string) *chronoquiz.LearningProgress {
	for i := range s.records {
		if s.records[i].EventName == eventName {
			return &s.records[i]
		}
	}
	return nil
}

func (s *learningSession) replaceRecord(updated chronoquiz.LearningProgress) {
	for i := range s.records {
		if s.records[i].EventName == updated.EventName {
			s.records[i] = updated
			return
		}
	}
	s.records = append(s.records, updated)
}

// statsFor summarizes the session's category progress. Caller holds
// lm.mu (or exclusive access to the session).
func (lm *LearningManager) statsFor(session *learningSession) learningStats {
	now := lm.now()
	stats := learningStats{
		TotalEvents: len(session.category.Events),
		Learnedness: sm2.CategoryLearnedness(session.category.Events, session.records),
	}
	for i := range session.records {
		r := &session.records[i]
		stats.Seen++
		stats.TotalReviews += r.TotalAttempts
		if sm2.EventLearnedness(r).Level == "mastered" {
			stats.Mastered++
		}
		if !r.NextReview.After(now) {
			stats.Due++
		}
		if r.Repetitions == 1 && sameUTCDay(r.LastReview, now) {
			stats.NewToday++
		}
	}
	return stats
}

func categoryInfoFor(c chronoquiz.Category) categoryInfo {
	return categoryInfo{
		Key:         c.Key,
		Name:        c.Name,
		Description: c.Description,
		MapCenter:   c.MapCenter,
		MapZoom:     c.MapZoom,
		TimelineMin: c.TimelineMin,
		TimelineMax: c.TimelineMax,
	}
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
