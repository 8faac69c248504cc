package server

import (
	"math/rand"
	"testing"
	"time"

	"github.com/playhistoric/chronoquiz/internal/catalog"
	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
)

func newTestLearningManager(t *testing.T) (*LearningManager, *fakeStore, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}

	store := newFakeStore()
	lm := NewLearningManager(discardLogger(), store, cat)
	lm.rng = rand.New(rand.NewSource(1))
	lm.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return lm, store, cat
}

func findEvent(t *testing.T, cat *catalog.Catalog, categoryKey, name string) chronoquiz.Event {
	t.Helper()
	category, ok := cat.Get(categoryKey)
	if !ok {
		t.Fatalf("unknown category %q", categoryKey)
	}
	for _, e := range category.Events {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("event %q not in category %q", name, categoryKey)
	return chronoquiz.Event{}
}

func TestLearningRejectsGuests(t *testing.T) {
	lm, _, _ := newTestLearningManager(t)

	c := newFakeConn()
	lm.Start(c, guest("Guest_x"), "battles")

	if _, ok := lastOfType[errorMsg](c); !ok {
		t.Error("guests should be rejected from learning mode")
	}
	if lm.InSession(c) {
		t.Error("no session should exist for a rejected guest")
	}
}

func TestLearningFirstAttempt(t *testing.T) {
	lm, _, cat := newTestLearningManager(t)

	c := newFakeConn()
	lm.Start(c, registered("u1", 1000), "battles")

	started, ok := lastOfType[learningStartedMsg](c)
	if !ok {
		t.Fatal("learning_started not sent")
	}
	if started.Stats.TotalEvents != 10 || started.Stats.Seen != 0 {
		t.Errorf("fresh stats = %+v", started.Stats)
	}

	ev, ok := lastOfType[learningEventMsg](c)
	if !ok {
		t.Fatal("first learning_event not dealt on start")
	}
	if ev.Learnedness.Level != "new" {
		t.Errorf("never-seen event learnedness %q, want new", ev.Learnedness.Level)
	}

	// The answer is withheld until submission: resolve it from the
	// catalog and submit perfectly.
	answer := findEvent(t, cat, "battles", ev.EventName)
	lm.Submit(c, clientMessage{
		GuessLat: answer.Lat, GuessLng: answer.Lng, GuessYear: answer.Year,
	})

	result, ok := lastOfType[learningResultMsg](c)
	if !ok {
		t.Fatal("learning_result not sent")
	}
	if result.Quality != 5 {
		t.Errorf("perfect guess quality = %d, want 5", result.Quality)
	}
	if result.YearError != 0 || result.DistanceKm > 0.001 {
		t.Errorf("errors = %dy / %.2fkm, want zero", result.YearError, result.DistanceKm)
	}
	if result.Repetitions != 1 || result.IntervalDays != 1 {
		t.Errorf("schedule reps=%d interval=%d, want 1/1", result.Repetitions, result.IntervalDays)
	}
	wantNext := lm.now().AddDate(0, 0, 1).UTC().Format(time.RFC3339)
	if result.NextReview != wantNext {
		t.Errorf("next review %q, want %q", result.NextReview, wantNext)
	}
	if result.Stats.Seen != 1 {
		t.Errorf("updated stats = %+v", result.Stats)
	}
	if result.Event.Name != answer.Name || result.Event.Year != answer.Year {
		t.Error("learning_result must reveal the full event")
	}
}

func TestLearningEventWithholdsAnswer(t *testing.T) {
	lm, _, _ := newTestLearningManager(t)

	c := newFakeConn()
	lm.Start(c, registered("u1", 1000), "soviet")

	ev, ok := lastOfType[learningEventMsg](c)
	if !ok {
		t.Fatal("learning_event not sent")
	}
	if ev.EventName == "" {
		t.Error("event name missing")
	}
	// The message type carries no coordinates or year by construction;
	// what it does carry is the category frame for rendering.
	if ev.Category.Key != "soviet" {
		t.Errorf("category key %q", ev.Category.Key)
	}
}

func TestLearningSubmitWithoutEvent(t *testing.T) {
	lm, _, cat := newTestLearningManager(t)

	c := newFakeConn()
	lm.Start(c, registered("u1", 1000), "battles")

	ev, _ := lastOfType[learningEventMsg](c)
	answer := findEvent(t, cat, "battles", ev.EventName)
	lm.Submit(c, clientMessage{GuessLat: answer.Lat, GuessLng: answer.Lng, GuessYear: answer.Year})

	// The current event was consumed; a second submit must be rejected
	// until the next event is requested.
	before := countOfType[learningResultMsg](c)
	lm.Submit(c, clientMessage{GuessLat: 0, GuessLng: 0, GuessYear: 0})
	if countOfType[learningResultMsg](c) != before {
		t.Error("submit without an outstanding event must not produce a result")
	}
	if _, ok := lastOfType[errorMsg](c); !ok {
		t.Error("submit without an outstanding event should produce an error")
	}
}

func TestLearningNextWhilePending(t *testing.T) {
	lm, _, _ := newTestLearningManager(t)

	c := newFakeConn()
	lm.Start(c, registered("u1", 1000), "battles")

	before := countOfType[learningEventMsg](c)
	lm.Next(c)
	if countOfType[learningEventMsg](c) != before {
		t.Error("next with an outstanding event must not deal another")
	}
}

func TestLearningPersistenceFailureKeepsSessionUsable(t *testing.T) {
	lm, store, cat := newTestLearningManager(t)

	c := newFakeConn()
	lm.Start(c, registered("u1", 1000), "battles")
	ev, _ := lastOfType[learningEventMsg](c)
	answer := findEvent(t, cat, "battles", ev.EventName)

	store.mu.Lock()
	store.failUpsertProgress = true
	store.mu.Unlock()

	lm.Submit(c, clientMessage{GuessLat: answer.Lat, GuessLng: answer.Lng, GuessYear: answer.Year})
	if _, ok := lastOfType[errorMsg](c); !ok {
		t.Error("persistence failure should surface an error")
	}

	// The session survives and can continue once the store recovers.
	store.mu.Lock()
	store.failUpsertProgress = false
	store.mu.Unlock()

	lm.Next(c)
	if _, ok := lastOfType[learningEventMsg](c); !ok {
		t.Error("session should continue after a failed persistence call")
	}
	if !lm.InSession(c) {
		t.Error("session must not be torn down by a store failure")
	}
}

func TestLearningNextSeesProgressFromOtherWriters(t *testing.T) {
	lm, store, cat := newTestLearningManager(t)

	c := newFakeConn()
	lm.Start(c, registered("u1", 1000), "battles")
	ev, _ := lastOfType[learningEventMsg](c)
	answer := findEvent(t, cat, "battles", ev.EventName)
	lm.Submit(c, clientMessage{GuessLat: answer.Lat, GuessLng: answer.Lng, GuessYear: answer.Year})

	// Another connection for the same user masters the whole category
	// behind this session's back.
	category, _ := cat.Get("battles")
	store.mu.Lock()
	for _, e := range category.Events {
		store.progress[progressKey("u1", "battles", e.Name)] = chronoquiz.LearningProgress{
			UserID:             "u1",
			CategoryKey:        "battles",
			EventName:          e.Name,
			EaseFactor:         2.5,
			IntervalDays:       30,
			Repetitions:        5,
			NextReview:         lm.now().AddDate(0, 0, 30),
			LastReview:         lm.now().AddDate(0, 0, -1),
			TotalAttempts:      5,
			SuccessfulAttempts: 5,
		}
	}
	store.mu.Unlock()

	lm.Next(c)
	next, ok := lastOfType[learningEventMsg](c)
	if !ok {
		t.Fatal("no learning_event dealt")
	}
	if next.Learnedness.Level != "mastered" {
		t.Errorf("learnedness %q, want mastered from freshly loaded progress", next.Learnedness.Level)
	}
	if next.Repetitions != 5 {
		t.Errorf("repetitions %d, want 5 from freshly loaded progress", next.Repetitions)
	}
}

func TestLearningDropDiscardsSession(t *testing.T) {
	lm, _, _ := newTestLearningManager(t)

	c := newFakeConn()
	lm.Start(c, registered("u1", 1000), "battles")
	lm.Drop(c)

	if lm.InSession(c) {
		t.Error("dropped session still present")
	}
	lm.Next(c)
	if _, ok := lastOfType[errorMsg](c); !ok {
		t.Error("next after drop should produce an error")
	}
}

func TestLearningStatsAccumulate(t *testing.T) {
	lm, _, cat := newTestLearningManager(t)

	c := newFakeConn()
	lm.Start(c, registered("u1", 1000), "battles")

	// Answer three events; stats should track what was seen.
	for i := 0; i < 3; i++ {
		ev, ok := lastOfType[learningEventMsg](c)
		if !ok {
			t.Fatalf("attempt %d: no learning_event", i)
		}
		answer := findEvent(t, cat, "battles", ev.EventName)
		lm.Submit(c, clientMessage{GuessLat: answer.Lat, GuessLng: answer.Lng, GuessYear: answer.Year})
		lm.Next(c)
	}

	result, ok := lastOfType[learningResultMsg](c)
	if !ok {
		t.Fatal("no learning_result")
	}
	if result.Stats.TotalReviews != 3 {
		t.Errorf("total reviews %d, want 3", result.Stats.TotalReviews)
	}
	if result.Stats.Seen < 1 {
		t.Errorf("seen %d, want at least 1", result.Stats.Seen)
	}
	if result.Stats.Learnedness <= 0 {
		t.Error("category learnedness should rise above zero")
	}
}
