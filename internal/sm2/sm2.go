// Package sm2 implements the SuperMemo-2 spaced-repetition scheduler
// used by learning mode: recall quality from guess errors, the next
// review interval, learnedness levels for progress display, and the
// tiered picker that decides which event to show next.
package sm2

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
)

const (
	// MinEaseFactor is the SM-2 floor below which intervals stop
	// shrinking.
	MinEaseFactor = 1.3

	defaultEaseFactor = 2.5
	masteredReps      = 3

	// DefaultMaxNewPerSession caps how many never-seen events are
	// introduced per day.
	DefaultMaxNewPerSession = 10
)

// Quality maps year and distance error to a 0-5 recall quality. The
// buckets are deliberately coarse: year error uses inclusive bounds,
// distance uses strict less-than.
func Quality(yearError int, distanceKm float64) int {
	var yearScore float64
	switch {
	case yearError == 0:
		yearScore = 2.5
	case yearError <= 10:
		yearScore = 2.0
	case yearError <= 20:
		yearScore = 1.0
	}

	var distanceScore float64
	switch {
	case distanceKm < 20:
		distanceScore = 2.5
	case distanceKm < 35:
		distanceScore = 1.5
	case distanceKm < 50:
		distanceScore = 0.5
	}

	return int(math.Round(yearScore + distanceScore))
}

// Review is the scheduling state produced by NextReview.
type Review struct {
	EaseFactor   float64
	IntervalDays int
	Repetitions  int
	NextReview   time.Time
}

// NextReview applies the SM-2 update rule. A quality below 3 is a failed
// recall: repetitions reset and the event comes back tomorrow. current
// may be nil for a first attempt, in which case SM-2 defaults apply.
func NextReview(current *chronoquiz.LearningProgress, quality int, now time.Time) Review {
	easeFactor := defaultEaseFactor
	intervalDays := 1
	repetitions := 0
	if current != nil {
		if current.EaseFactor > 0 {
			easeFactor = current.EaseFactor
		}
		if current.IntervalDays > 0 {
			intervalDays = current.IntervalDays
		}
		repetitions = current.Repetitions
	}

	if quality < 3 {
		repetitions = 0
		intervalDays = 1
	} else {
		switch repetitions {
		case 0:
			intervalDays = 1
		case 1:
			intervalDays = 6
		default:
			intervalDays = int(math.Round(float64(intervalDays) * easeFactor))
		}
		repetitions++
	}

	q := float64(quality)
	easeFactor = easeFactor + (0.1 - (5-q)*(0.08+(5-q)*0.02))
	easeFactor = math.Max(MinEaseFactor, easeFactor)
	easeFactor = math.Round(easeFactor*100) / 100

	return Review{
		EaseFactor:   easeFactor,
		IntervalDays: intervalDays,
		Repetitions:  repetitions,
		NextReview:   now.AddDate(0, 0, intervalDays),
	}
}

// Learnedness is the derived 0-100% progress indicator for one event.
type Learnedness struct {
	Level      string `json:"level"` // "new", "learning", or "mastered"
	Percentage int    `json:"percentage"`
}

// EventLearnedness derives an event's learnedness from its SM-2 state.
// progress may be nil (never attempted).
func EventLearnedness(progress *chronoquiz.LearningProgress) Learnedness {
	if progress == nil || progress.Repetitions == 0 {
		return Learnedness{Level: "new"}
	}

	easeFactor := progress.EaseFactor
	if easeFactor == 0 {
		easeFactor = defaultEaseFactor
	}
	repetitions := progress.Repetitions

	if easeFactor >= defaultEaseFactor && repetitions >= masteredReps {
		// 66-100%, scaling with reps beyond the third (capped at +7)
		// and ease above 2.5 (capped at +0.5).
		extraReps := math.Min(float64(repetitions-masteredReps), 7)
		easeBonus := math.Min((easeFactor-defaultEaseFactor)/0.5, 1)
		pct := 66 + (extraReps/7)*25 + easeBonus*9
		return Learnedness{Level: "mastered", Percentage: int(math.Min(100, math.Round(pct)))}
	}

	// 33-66%, blending repetition progress toward 3 with ease progress
	// from the 1.3 floor to 2.5, equally weighted.
	repProgress := math.Min(float64(repetitions)/masteredReps, 1)
	easeProgress := math.Max(0, (easeFactor-MinEaseFactor)/(defaultEaseFactor-MinEaseFactor))
	pct := 33 + (repProgress*0.5+easeProgress*0.5)*33
	return Learnedness{Level: "learning", Percentage: int(math.Round(pct))}
}

// Selection is the outcome of SelectNextEvent.
type Selection struct {
	Event    chronoquiz.Event
	Progress *chronoquiz.LearningProgress
}

type candidate struct {
	event    chronoquiz.Event
	progress *chronoquiz.LearningProgress
	priority float64
}

// SelectNextEvent picks the event to practice next. Events are tiered
// into overdue (review due, or seen-but-never-retained), new (never
// attempted, gated by a per-day introduction cap), and not-due. The pick
// is probabilistic: 70% the most-overdue item, another 20% a random new
// event, and the remainder falls back through overdue, new, a not-due
// preview, and finally a uniformly random event. Repeats are allowed;
// variety comes from the weighted randomness, not replacement avoidance.
func SelectNextEvent(events []chronoquiz.Event, records []chronoquiz.LearningProgress, maxNewPerSession int, now time.Time, rng *rand.Rand) Selection {
	byName := make(map[string]*chronoquiz.LearningProgress, len(records))
	newToday := 0
	for i := range records {
		r := &records[i]
		byName[r.EventName] = r
		if r.Repetitions == 1 && sameDay(r.LastReview, now) {
			newToday++
		}
	}

	var overdue, fresh, notDue []candidate

	for _, event := range events {
		progress, seen := byName[event.Name]
		switch {
		case !seen:
			if newToday < maxNewPerSession {
				fresh = append(fresh, candidate{event: event})
			}
		case progress.Repetitions == 0:
			// Seen but failed: treat as overdue.
			overdue = append(overdue, candidate{event: event, progress: progress, priority: 1})
		case !progress.NextReview.After(now):
			daysOverdue := now.Sub(progress.NextReview).Hours() / 24
			overdue = append(overdue, candidate{event: event, progress: progress, priority: daysOverdue})
		default:
			daysUntilDue := progress.NextReview.Sub(now).Hours() / 24
			notDue = append(notDue, candidate{event: event, progress: progress, priority: daysUntilDue})
		}
	}

	sort.SliceStable(overdue, func(i, j int) bool { return overdue[i].priority > overdue[j].priority })
	sort.SliceStable(notDue, func(i, j int) bool { return notDue[i].priority < notDue[j].priority })

	roll := rng.Float64()

	if len(overdue) > 0 && (roll < 0.7 || len(fresh) == 0) {
		return selection(overdue[0])
	}
	if len(fresh) > 0 && roll < 0.9 {
		return selection(fresh[rng.Intn(len(fresh))])
	}
	if len(overdue) > 0 {
		return selection(overdue[0])
	}
	if len(fresh) > 0 {
		return selection(fresh[rng.Intn(len(fresh))])
	}
	if len(notDue) > 0 {
		return selection(notDue[0])
	}

	event := events[rng.Intn(len(events))]
	return Selection{Event: event, Progress: byName[event.Name]}
}

// CategoryLearnedness is the mean learnedness percentage over every
// event in the category; events with no progress contribute 0%.
func CategoryLearnedness(events []chronoquiz.Event, records []chronoquiz.LearningProgress) int {
	if len(events) == 0 {
		return 0
	}

	byName := make(map[string]*chronoquiz.LearningProgress, len(records))
	for i := range records {
		byName[records[i].EventName] = &records[i]
	}

	total := 0
	for _, event := range events {
		total += EventLearnedness(byName[event.Name]).Percentage
	}
	return int(math.Round(float64(total) / float64(len(events))))
}

func selection(c candidate) Selection {
	return Selection{Event: c.event, Progress: c.progress}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
