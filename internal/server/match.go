package server

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playhistoric/chronoquiz/internal/catalog"
	"github.com/playhistoric/chronoquiz/internal/chronoquiz"
	"github.com/playhistoric/chronoquiz/internal/elo"
	"github.com/playhistoric/chronoquiz/internal/geo"
)

const (
	roundsPerMatch = 10

	// Reasons recorded on game-over. A mid-match disconnect ends the
	// game through the same path as a completed one, with whatever
	// scores exist; the reason keeps that ambiguity visible to clients
	// and in the persisted record.
	terminationCompleted  = "completed"
	terminationPlayerLeft = "player_left"

	persistTimeout = 5 * time.Second
)

// answer is one player's recorded guess for one round. Immutable once
// stored; at most one per player per round.
type answer struct {
	guessLat    float64
	guessLng    float64
	guessYear   int
	timeLeft    float64
	roundScore  int
	distanceKm  float64
	yearError   int
	submittedAt time.Time
}

// matchPlayer is one participant's state, scoped to a single match.
type matchPlayer struct {
	conn          Conn
	identity      Identity
	localID       string // "player_1" or "player_2"
	score         int
	answers       [roundsPerMatch]*answer
	readyForRound bool
	readyForNext  bool
}

// Match is one live game session: one participant for practice, two
// otherwise. All mutation happens under mu.
type Match struct {
	id          string
	categoryKey string
	category    chronoquiz.Category
	players     []*matchPlayer

	status         chronoquiz.GameStatus
	currentRound   int
	currentEvent   *chronoquiz.Event
	roundStartTime time.Time
	isRanked       bool

	mu sync.Mutex
}

// Coordinator owns all live matches, keyed by match ID and by
// connection for inbound dispatch.
type Coordinator struct {
	logger  *slog.Logger
	store   Store
	catalog *catalog.Catalog

	mu      sync.Mutex
	matches map[string]*Match
	byConn  map[Conn]*Match

	rng        *rand.Rand
	now        func() time.Time
	startDelay time.Duration
}

func NewCoordinator(logger *slog.Logger, store Store, cat *catalog.Catalog) *Coordinator {
	return &Coordinator{
		logger:     logger,
		store:      store,
		catalog:    cat,
		matches:    make(map[string]*Match),
		byConn:     make(map[Conn]*Match),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		startDelay: time.Second,
	}
}

// StartMatch creates a session for two paired lobby players, announces
// it, and schedules round one. Ranked iff both are registered users.
func (c *Coordinator) StartMatch(categoryKey string, p1, p2 *lobbyPlayer) {
	category, ok := c.catalog.Get(categoryKey)
	if !ok {
		c.logger.Error("match for unknown category", "category", categoryKey)
		return
	}

	match := &Match{
		id:          uuid.NewString(),
		categoryKey: categoryKey,
		category:    category,
		status:      chronoquiz.GameStatusWaiting,
		isRanked:    !p1.identity.IsGuest && !p2.identity.IsGuest,
		players: []*matchPlayer{
			{conn: p1.conn, identity: p1.identity, localID: "player_1"},
			{conn: p2.conn, identity: p2.identity, localID: "player_2"},
		},
	}

	c.register(match)

	for i, mp := range match.players {
		opponent := match.players[1-i]
		mp.conn.Send(matchFoundMsg{
			Type:        "match_found",
			MatchID:     match.id,
			CategoryKey: categoryKey,
			Opponent: lobbyPlayerInfo{
				UserID:    opponent.identity.UserID,
				Username:  opponent.identity.Username,
				Elo:       opponent.identity.Elo,
				IsGuest:   opponent.identity.IsGuest,
				AvatarURL: opponent.identity.AvatarURL,
			},
		})
	}

	if match.isRanked {
		c.createGameRecord(match)
	}

	c.logger.Info("match started",
		"match_id", match.id,
		"category", categoryKey,
		"ranked", match.isRanked,
		"player1", p1.identity.Username,
		"player2", p2.identity.Username)

	c.begin(match)
}

// StartPractice creates a solo session: the same state machine with one
// participant, never ranked.
func (c *Coordinator) StartPractice(conn Conn, id Identity, categoryKey string) {
	category, ok := c.catalog.Get(categoryKey)
	if !ok {
		conn.Send(protocolError("unknown category"))
		return
	}

	match := &Match{
		id:          uuid.NewString(),
		categoryKey: categoryKey,
		category:    category,
		status:      chronoquiz.GameStatusWaiting,
		players:     []*matchPlayer{{conn: conn, identity: id, localID: "player_1"}},
	}

	c.register(match)
	c.logger.Info("practice started", "match_id", match.id, "category", categoryKey, "username", id.Username)
	c.begin(match)
}

func (c *Coordinator) register(match *Match) {
	c.mu.Lock()
	c.matches[match.id] = match
	for _, mp := range match.players {
		c.byConn[mp.conn] = match
	}
	c.mu.Unlock()
}

// begin transitions Waiting → Playing, zeroes scores, and schedules the
// first round after a short delay.
func (c *Coordinator) begin(match *Match) {
	match.mu.Lock()
	match.status = chronoquiz.GameStatusPlaying
	match.currentRound = 0
	for _, mp := range match.players {
		mp.score = 0
		mp.answers = [roundsPerMatch]*answer{}
	}
	match.mu.Unlock()

	match.broadcast(gameStartingMsg{Type: "game_starting", MatchID: match.id, CategoryKey: match.categoryKey})

	if c.startDelay == 0 {
		c.beginRound(match)
		return
	}
	time.AfterFunc(c.startDelay, func() { c.beginRound(match) })
}

// beginRound picks the round's event uniformly at random (repeats
// across rounds are allowed) and broadcasts it; the countdown does not
// start until every participant has signalled ready.
func (c *Coordinator) beginRound(match *Match) {
	match.mu.Lock()
	if match.status != chronoquiz.GameStatusPlaying {
		match.mu.Unlock()
		return
	}
	match.currentRound++
	event := match.category.Events[c.rng.Intn(len(match.category.Events))]
	match.currentEvent = &event
	match.roundStartTime = time.Time{}
	for _, mp := range match.players {
		mp.readyForRound = false
	}
	round := match.currentRound
	match.mu.Unlock()

	match.broadcast(prepareRoundMsg{Type: "prepare_round", Round: round, Event: event})
}

// HandleReadyForRound records a ready-sync signal; once every
// participant has signalled, the synchronized start is broadcast and
// the round clock begins.
func (c *Coordinator) HandleReadyForRound(conn Conn) {
	match := c.matchFor(conn)
	if match == nil {
		conn.Send(protocolError("not in a match"))
		return
	}

	match.mu.Lock()
	mp := match.playerFor(conn)
	if mp == nil || match.status != chronoquiz.GameStatusPlaying || match.currentEvent == nil {
		match.mu.Unlock()
		conn.Send(protocolError("no round to get ready for"))
		return
	}
	// The round clock is already running; a repeat signal must not
	// restart the opponent's countdown.
	if !match.roundStartTime.IsZero() {
		match.mu.Unlock()
		return
	}
	mp.readyForRound = true

	allReady := true
	for _, p := range match.players {
		if !p.readyForRound {
			allReady = false
			break
		}
	}
	round := match.currentRound
	if allReady {
		match.roundStartTime = c.now()
	}
	match.mu.Unlock()

	if allReady {
		match.broadcast(roundStartMsg{Type: "round_start", Round: round})
	}
}

// HandleSubmitAnswer scores and records a guess. A second submission
// for the same round by the same player is ignored. The submitter is
// acknowledged privately; results go out once everyone has answered.
func (c *Coordinator) HandleSubmitAnswer(conn Conn, msg clientMessage) {
	match := c.matchFor(conn)
	if match == nil {
		conn.Send(protocolError("not in a match"))
		return
	}

	match.mu.Lock()
	mp := match.playerFor(conn)
	if mp == nil || match.status != chronoquiz.GameStatusPlaying || match.currentEvent == nil || match.currentRound == 0 {
		match.mu.Unlock()
		conn.Send(protocolError("no active round"))
		return
	}

	roundIdx := match.currentRound - 1
	if mp.answers[roundIdx] != nil {
		// At most one answer per player per round.
		match.mu.Unlock()
		return
	}

	event := *match.currentEvent
	distance := geo.DistanceKm(msg.GuessLat, msg.GuessLng, event.Lat, event.Lng)
	yearError := abs(msg.GuessYear - event.Year)
	score := geo.RoundScore(distance, yearError, msg.TimeLeft)
	if msg.TimeLeft <= 0 {
		score -= geo.TimeoutPenalty
	}

	mp.answers[roundIdx] = &answer{
		guessLat:    msg.GuessLat,
		guessLng:    msg.GuessLng,
		guessYear:   msg.GuessYear,
		timeLeft:    msg.TimeLeft,
		roundScore:  score,
		distanceKm:  distance,
		yearError:   yearError,
		submittedAt: c.now(),
	}
	mp.score += score
	total := mp.score

	allAnswered := true
	for _, p := range match.players {
		if p.answers[roundIdx] == nil {
			allAnswered = false
			break
		}
	}
	match.mu.Unlock()

	conn.Send(answerReceivedMsg{
		Type:       "answer_received",
		RoundScore: score,
		TotalScore: total,
		Distance:   int(math.Round(distance)),
		YearError:  yearError,
	})

	if allAnswered {
		c.finishRound(match, roundIdx)
	}
}

// finishRound broadcasts the round comparison and archives the round
// for ranked games.
func (c *Coordinator) finishRound(match *Match, roundIdx int) {
	match.mu.Lock()
	event := *match.currentEvent
	round := roundIdx + 1
	results := make([]playerRoundResult, 0, len(match.players))
	for _, p := range match.players {
		a := p.answers[roundIdx]
		results = append(results, playerRoundResult{
			PlayerID:   p.localID,
			PlayerName: p.identity.Username,
			TotalScore: p.score,
			RoundScore: a.roundScore,
			Guess:      roundGuess{Lat: a.guessLat, Lng: a.guessLng, Year: a.guessYear},
			Distance:   int(math.Round(a.distanceKm)),
			YearError:  a.yearError,
		})
	}
	ranked := match.isRanked
	match.mu.Unlock()

	match.broadcast(roundResultsMsg{
		Type:          "round_results",
		Round:         round,
		Results:       results,
		CorrectAnswer: event,
	})

	if ranked {
		c.archiveRound(match, roundIdx, event)
	}
}

// HandleReadyNextRound advances the match once every participant has
// asked for the next round; after the tenth round it ends the game.
func (c *Coordinator) HandleReadyNextRound(conn Conn) {
	match := c.matchFor(conn)
	if match == nil {
		conn.Send(protocolError("not in a match"))
		return
	}

	match.mu.Lock()
	mp := match.playerFor(conn)
	if mp == nil || match.status != chronoquiz.GameStatusPlaying {
		match.mu.Unlock()
		conn.Send(protocolError("no match in progress"))
		return
	}
	mp.readyForNext = true

	allReady := true
	for _, p := range match.players {
		if !p.readyForNext {
			allReady = false
			break
		}
	}
	var last bool
	if allReady {
		for _, p := range match.players {
			p.readyForNext = false
		}
		last = match.currentRound >= roundsPerMatch
	}
	match.mu.Unlock()

	if !allReady {
		return
	}
	if last {
		c.endGame(match, terminationCompleted)
	} else {
		c.beginRound(match)
	}
}

// HandleDisconnect tears down whatever match holds the connection. A
// mid-game drop ends the match through the normal game-over path with
// the scores accrued so far.
func (c *Coordinator) HandleDisconnect(conn Conn) {
	match := c.matchFor(conn)
	if match == nil {
		return
	}

	match.mu.Lock()
	playing := match.status == chronoquiz.GameStatusPlaying
	match.mu.Unlock()

	if playing {
		c.endGame(match, terminationPlayerLeft)
	} else {
		c.release(match)
	}
}

// endGame finalizes scores, applies ELO for ranked games, persists
// results, and releases all match state. Persistence failures are
// logged and never block the broadcast: the in-memory result is
// authoritative.
func (c *Coordinator) endGame(match *Match, reason string) {
	match.mu.Lock()
	if match.status != chronoquiz.GameStatusPlaying {
		match.mu.Unlock()
		return
	}
	match.status = chronoquiz.GameStatusWaiting

	players := make([]*matchPlayer, len(match.players))
	copy(players, match.players)
	ranked := match.isRanked
	match.mu.Unlock()

	scores := make([]finalScore, 0, len(players))
	for _, p := range players {
		scores = append(scores, finalScore{
			PlayerID:   p.localID,
			PlayerName: p.identity.Username,
			UserID:     p.identity.UserID,
			TotalScore: p.score,
		})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].TotalScore > scores[j].TotalScore })

	if ranked && len(players) == 2 {
		c.applyRatings(match, players, scores, reason)
	}

	match.broadcast(gameOverMsg{
		Type:              "game_over",
		FinalScores:       scores,
		TerminationReason: reason,
	})

	c.logger.Info("match ended", "match_id", match.id, "reason", reason)
	c.release(match)
}

// applyRatings computes ELO deltas from final scores and persists the
// outcome: updated ratings, the completed game record, and per-player
// aggregate stats.
func (c *Coordinator) applyRatings(match *Match, players []*matchPlayer, scores []finalScore, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	p1, p2 := players[0], players[1]

	games1, elo1 := c.playedAndRating(ctx, p1.identity)
	games2, elo2 := c.playedAndRating(ctx, p2.identity)

	r1, r2 := elo.MatchChanges(elo1, elo2, p1.score, p2.score, games1, games2)

	for i := range scores {
		var r elo.Result
		switch scores[i].PlayerID {
		case p1.localID:
			r = r1
		case p2.localID:
			r = r2
		}
		delta, newElo := r.Delta, r.NewRating
		scores[i].EloChange = &delta
		scores[i].NewElo = &newElo
	}

	if err := c.store.UpdateUserRating(ctx, p1.identity.UserID, r1.NewRating); err != nil {
		c.logger.Error("rating update failed", "match_id", match.id, "user_id", p1.identity.UserID, "error", err)
	}
	if err := c.store.UpdateUserRating(ctx, p2.identity.UserID, r2.NewRating); err != nil {
		c.logger.Error("rating update failed", "match_id", match.id, "user_id", p2.identity.UserID, "error", err)
	}

	winnerID := ""
	if p1.score > p2.score {
		winnerID = p1.identity.UserID
	} else if p2.score > p1.score {
		winnerID = p2.identity.UserID
	}

	if err := c.store.CompleteGame(ctx, GameCompletion{
		GameID:            match.id,
		Player1Score:      p1.score,
		Player2Score:      p2.score,
		WinnerID:          winnerID,
		Player1EloAfter:   r1.NewRating,
		Player2EloAfter:   r2.NewRating,
		TerminationReason: reason,
	}); err != nil {
		c.logger.Error("game completion failed", "match_id", match.id, "error", err)
	}

	for _, p := range []*matchPlayer{p1, p2} {
		won := p.identity.UserID == winnerID && winnerID != ""
		if err := c.store.UpdateStatsAfterGame(ctx, p.identity.UserID, p.score, won, roundStatsFor(p)); err != nil {
			c.logger.Error("stats update failed", "match_id", match.id, "user_id", p.identity.UserID, "error", err)
		}
	}
}

func (c *Coordinator) playedAndRating(ctx context.Context, id Identity) (gamesPlayed, rating int) {
	user, err := c.store.GetUser(ctx, id.UserID)
	if err != nil {
		c.logger.Error("user lookup failed, using connection identity", "user_id", id.UserID, "error", err)
		return 0, id.Elo
	}
	return user.GamesPlayed, user.EloRating
}

func (c *Coordinator) createGameRecord(match *Match) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	p1, p2 := match.players[0], match.players[1]
	err := c.store.CreateGame(ctx, chronoquiz.Game{
		ID:               match.id,
		CategoryKey:      match.categoryKey,
		Player1ID:        p1.identity.UserID,
		Player2ID:        p2.identity.UserID,
		Player1EloBefore: p1.identity.Elo,
		Player2EloBefore: p2.identity.Elo,
		IsRanked:         true,
	})
	if err != nil {
		c.logger.Error("game record creation failed", "match_id", match.id, "error", err)
	}
}

func (c *Coordinator) archiveRound(match *Match, roundIdx int, event chronoquiz.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	match.mu.Lock()
	round := chronoquiz.Round{
		GameID:      match.id,
		RoundNumber: roundIdx + 1,
		EventName:   event.Name,
		EventLat:    event.Lat,
		EventLng:    event.Lng,
		EventYear:   event.Year,
	}
	guesses := []*chronoquiz.RoundGuess{&round.Player1, &round.Player2}
	for i, p := range match.players {
		if i >= len(guesses) {
			break
		}
		if a := p.answers[roundIdx]; a != nil {
			*guesses[i] = chronoquiz.RoundGuess{
				GuessLat:   a.guessLat,
				GuessLng:   a.guessLng,
				GuessYear:  a.guessYear,
				DistanceKm: a.distanceKm,
				YearError:  a.yearError,
				TimeLeft:   a.timeLeft,
				Score:      a.roundScore,
			}
		}
	}
	match.mu.Unlock()

	if err := c.store.SaveRound(ctx, round); err != nil {
		c.logger.Error("round archive failed", "match_id", match.id, "round", round.RoundNumber, "error", err)
	}
}

func (c *Coordinator) release(match *Match) {
	c.mu.Lock()
	delete(c.matches, match.id)
	for _, mp := range match.players {
		if c.byConn[mp.conn] == match {
			delete(c.byConn, mp.conn)
		}
	}
	c.mu.Unlock()
}

func (c *Coordinator) matchFor(conn Conn) *Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byConn[conn]
}

// InMatch reports whether the connection currently belongs to a live
// match.
func (c *Coordinator) InMatch(conn Conn) bool {
	return c.matchFor(conn) != nil
}

func (m *Match) playerFor(conn Conn) *matchPlayer {
	for _, p := range m.players {
		if p.conn == conn {
			return p
		}
	}
	return nil
}

func (m *Match) broadcast(msg any) {
	for _, p := range m.players {
		p.conn.Send(msg)
	}
}

func roundStatsFor(p *matchPlayer) chronoquiz.RoundStats {
	var stats chronoquiz.RoundStats
	for _, a := range p.answers {
		if a == nil {
			continue
		}
		stats.RoundCount++
		stats.TotalScore += a.roundScore
		stats.TotalDistanceError += a.distanceKm
		stats.TotalYearError += a.yearError
		if a.roundScore > stats.BestRoundScore {
			stats.BestRoundScore = a.roundScore
		}
	}
	return stats
}

