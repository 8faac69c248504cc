package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ELO band widening for auto-matching: the acceptable rating gap starts
// at initialRange and grows by expansionStep every expansionInterval of
// ready-wait, capped at maxRange. Guests match unconditionally.
const (
	initialRange      = 100
	expansionStep     = 50
	expansionInterval = 5 * time.Second
	maxRange          = 500

	inviteExpiration = 60 * time.Second
	sweepInterval    = 2 * time.Second
)

// lobbyPlayer is one connection waiting in a category lobby.
type lobbyPlayer struct {
	conn     Conn
	identity Identity
	ready    bool
	readyAt  time.Time
	joinedAt time.Time
}

type inviteKey struct {
	from string
	to   string
}

type pendingInvite struct {
	from        *lobbyPlayer
	to          *lobbyPlayer
	categoryKey string
	sentAt      time.Time
}

// Matchmaker owns the per-category lobbies and pending invites. All
// state is guarded by one mutex; mutate-then-broadcast sequences run
// under it so other handlers never observe a half-applied change.
type Matchmaker struct {
	logger *slog.Logger

	mu      sync.Mutex
	lobbies map[string][]*lobbyPlayer
	invites map[inviteKey]*pendingInvite

	// onMatch is invoked (outside the lock) with both players already
	// removed from the lobby.
	onMatch func(categoryKey string, p1, p2 *lobbyPlayer)

	now func() time.Time
}

func NewMatchmaker(logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		logger:  logger,
		lobbies: make(map[string][]*lobbyPlayer),
		invites: make(map[inviteKey]*pendingInvite),
		now:     time.Now,
	}
}

// SetMatchCallback registers the handoff invoked when two players pair
// up. Must be called before any connection is admitted.
func (m *Matchmaker) SetMatchCallback(fn func(categoryKey string, p1, p2 *lobbyPlayer)) {
	m.onMatch = fn
}

// Join adds a connection to a category lobby. Rejoining with the same
// userId replaces the prior entry (page reloads), and entries whose
// connection has closed are purged on the way in. Guests are never
// deduplicated.
func (m *Matchmaker) Join(categoryKey string, conn Conn, id Identity) {
	if id.IsGuest {
		// Guest ratings are never authoritative.
		id.Elo = guestRating
	}

	m.mu.Lock()
	lobby := m.lobbies[categoryKey][:0]
	for _, p := range m.lobbies[categoryKey] {
		stale := !p.conn.Open() || p.conn == conn
		if !stale && id.UserID != "" && p.identity.UserID == id.UserID {
			stale = true
		}
		if !stale {
			lobby = append(lobby, p)
			continue
		}
		m.cancelInvitesLocked(p)
	}

	player := &lobbyPlayer{
		conn:     conn,
		identity: id,
		joinedAt: m.now(),
	}
	m.lobbies[categoryKey] = append(lobby, player)
	m.mu.Unlock()

	m.logger.Info("player joined lobby", "category", categoryKey, "username", id.Username, "guest", id.IsGuest)

	conn.Send(lobbyJoinedMsg{Type: "lobby_joined", CategoryKey: categoryKey, You: id})
	m.broadcastLobby(categoryKey)
}

// Leave removes the connection from whichever lobby holds it and
// cancels all invites involving that player, in both directions.
func (m *Matchmaker) Leave(conn Conn) {
	m.mu.Lock()
	categoryKey, player := m.removeLocked(conn)
	if player != nil {
		m.cancelInvitesLocked(player)
	}
	m.mu.Unlock()

	if player != nil {
		m.logger.Info("player left lobby", "category", categoryKey, "username", player.identity.Username)
		m.broadcastLobby(categoryKey)
	}
}

// SetReady toggles the ready flag. Turning ready immediately attempts
// an opportunistic match against other ready players in the category.
func (m *Matchmaker) SetReady(conn Conn, ready bool) {
	m.mu.Lock()
	categoryKey, player := m.findLocked(conn)
	if player == nil {
		m.mu.Unlock()
		conn.Send(protocolError("not in a lobby"))
		return
	}

	player.ready = ready
	if ready {
		player.readyAt = m.now()
	} else {
		player.readyAt = time.Time{}
	}

	var opponent *lobbyPlayer
	if ready {
		opponent = m.matchForLocked(categoryKey, player, nil)
		if opponent != nil {
			m.removePlayerLocked(categoryKey, player)
			m.removePlayerLocked(categoryKey, opponent)
		}
	}
	m.mu.Unlock()

	m.broadcast(categoryKey, readyStatusMsg{
		Type:     "ready_status",
		UserID:   player.identity.UserID,
		Username: player.identity.Username,
		Ready:    ready,
	})
	m.broadcastLobby(categoryKey)

	if opponent != nil {
		m.onMatch(categoryKey, player, opponent)
	}
}

// SendInvite sends a direct challenge to another member of the same
// category lobby. At most one invite per ordered pair is outstanding.
func (m *Matchmaker) SendInvite(conn Conn, toUserID string) {
	m.mu.Lock()
	categoryKey, from := m.findLocked(conn)
	if from == nil {
		m.mu.Unlock()
		conn.Send(protocolError("not in a lobby"))
		return
	}
	if from.identity.UserID == "" {
		m.mu.Unlock()
		conn.Send(protocolError("guests cannot send invites"))
		return
	}
	if toUserID == from.identity.UserID {
		m.mu.Unlock()
		conn.Send(protocolError("cannot invite yourself"))
		return
	}

	to := m.findByUserIDLocked(categoryKey, toUserID)
	if to == nil {
		m.mu.Unlock()
		conn.Send(protocolError("player not found in lobby"))
		return
	}

	key := inviteKey{from: from.identity.UserID, to: toUserID}
	if _, exists := m.invites[key]; exists {
		m.mu.Unlock()
		conn.Send(protocolError("invite already sent"))
		return
	}

	m.invites[key] = &pendingInvite{
		from:        from,
		to:          to,
		categoryKey: categoryKey,
		sentAt:      m.now(),
	}
	m.mu.Unlock()

	to.conn.Send(gameInviteMsg{Type: "game_invite", From: inviteParty{
		UserID:    from.identity.UserID,
		Username:  from.identity.Username,
		Elo:       from.identity.Elo,
		AvatarURL: from.identity.AvatarURL,
	}})
	conn.Send(inviteSentMsg{Type: "invite_sent", To: inviteParty{
		UserID:   to.identity.UserID,
		Username: to.identity.Username,
	}})
}

// RespondInvite accepts or declines an invite from fromUserID.
// Accepting pairs both players into a match; expiration is checked
// here as well as in the periodic sweep.
func (m *Matchmaker) RespondInvite(conn Conn, fromUserID string, accept bool) {
	m.mu.Lock()
	categoryKey, responder := m.findLocked(conn)
	if responder == nil {
		m.mu.Unlock()
		conn.Send(protocolError("not in a lobby"))
		return
	}

	key := inviteKey{from: fromUserID, to: responder.identity.UserID}
	invite, ok := m.invites[key]
	if !ok {
		m.mu.Unlock()
		conn.Send(protocolError("invite not found or expired"))
		return
	}
	delete(m.invites, key)

	if !accept {
		m.mu.Unlock()
		invite.from.conn.Send(inviteDeclinedMsg{Type: "invite_declined", By: inviteParty{
			UserID:   responder.identity.UserID,
			Username: responder.identity.Username,
		}})
		return
	}

	if m.now().Sub(invite.sentAt) > inviteExpiration {
		m.mu.Unlock()
		conn.Send(protocolError("invite expired"))
		return
	}

	inviter := m.findByUserIDLocked(categoryKey, fromUserID)
	if inviter == nil || !inviter.conn.Open() {
		m.mu.Unlock()
		conn.Send(protocolError("player is no longer in the lobby"))
		return
	}

	m.removePlayerLocked(categoryKey, inviter)
	m.removePlayerLocked(categoryKey, responder)
	m.mu.Unlock()

	m.broadcastLobby(categoryKey)
	m.onMatch(categoryKey, inviter, responder)
}

// Run drives the periodic sweep: stale-connection pruning, expired
// invites, and banded matching for players whose opportunistic attempt
// found nobody.
func (m *Matchmaker) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep performs one pass of the periodic scheduler. Exported so tests
// can drive it without the ticker.
func (m *Matchmaker) Sweep() {
	type pair struct {
		categoryKey string
		p1, p2      *lobbyPlayer
	}
	var (
		matched   []pair
		refreshed []string
	)

	m.mu.Lock()
	for categoryKey, lobby := range m.lobbies {
		kept := lobby[:0]
		pruned := false
		for _, p := range lobby {
			if p.conn.Open() {
				kept = append(kept, p)
			} else {
				m.cancelInvitesLocked(p)
				pruned = true
			}
		}
		m.lobbies[categoryKey] = kept
		if pruned {
			refreshed = append(refreshed, categoryKey)
		}

		ready := make([]*lobbyPlayer, 0, len(kept))
		for _, p := range kept {
			if p.ready {
				ready = append(ready, p)
			}
		}
		if len(ready) < 2 {
			continue
		}

		// Oldest-ready first.
		sort.SliceStable(ready, func(i, j int) bool { return ready[i].readyAt.Before(ready[j].readyAt) })

		taken := make(map[*lobbyPlayer]bool)
		matchedBefore := len(matched)
		for _, p := range ready {
			if taken[p] {
				continue
			}
			opponent := m.matchForLocked(categoryKey, p, taken)
			if opponent == nil {
				continue
			}
			taken[p] = true
			taken[opponent] = true
			m.removePlayerLocked(categoryKey, p)
			m.removePlayerLocked(categoryKey, opponent)
			matched = append(matched, pair{categoryKey, p, opponent})
		}
		if len(matched) > matchedBefore {
			refreshed = append(refreshed, categoryKey)
		}
	}

	now := m.now()
	for key, invite := range m.invites {
		if now.Sub(invite.sentAt) > inviteExpiration {
			delete(m.invites, key)
		}
	}
	m.mu.Unlock()

	seen := make(map[string]bool)
	for _, categoryKey := range refreshed {
		if !seen[categoryKey] {
			seen[categoryKey] = true
			m.broadcastLobby(categoryKey)
		}
	}
	for _, p := range matched {
		m.onMatch(p.categoryKey, p.p1, p.p2)
	}
}

// matchForLocked finds the best opponent for a ready player: within the
// current ELO band (guests always qualify), preferring non-guests, then
// the closest rating.
func (m *Matchmaker) matchForLocked(categoryKey string, player *lobbyPlayer, exclude map[*lobbyPlayer]bool) *lobbyPlayer {
	band := currentRange(m.now().Sub(player.readyAt))

	var best *lobbyPlayer
	for _, p := range m.lobbies[categoryKey] {
		if p == player || !p.ready || exclude[p] || !p.conn.Open() {
			continue
		}
		if !player.identity.IsGuest && !p.identity.IsGuest {
			if abs(p.identity.Elo-player.identity.Elo) > band {
				continue
			}
		}
		if best == nil || betterCandidate(player, p, best) {
			best = p
		}
	}
	return best
}

// betterCandidate reports whether a should be preferred over b as an
// opponent for player.
func betterCandidate(player, a, b *lobbyPlayer) bool {
	if a.identity.IsGuest != b.identity.IsGuest {
		return !a.identity.IsGuest
	}
	if a.identity.IsGuest {
		return a.readyAt.Before(b.readyAt)
	}
	return abs(a.identity.Elo-player.identity.Elo) < abs(b.identity.Elo-player.identity.Elo)
}

func currentRange(waited time.Duration) int {
	if waited < 0 {
		waited = 0
	}
	expansions := int(waited / expansionInterval)
	band := initialRange + expansions*expansionStep
	if band > maxRange {
		band = maxRange
	}
	return band
}

// broadcastLobby sends the full player list, sorted by rating
// descending, to every member of the category lobby.
func (m *Matchmaker) broadcastLobby(categoryKey string) {
	m.mu.Lock()
	lobby := m.lobbies[categoryKey]
	players := make([]lobbyPlayerInfo, 0, len(lobby))
	conns := make([]Conn, 0, len(lobby))
	readyCount := 0
	for _, p := range lobby {
		players = append(players, lobbyPlayerInfo{
			UserID:    p.identity.UserID,
			Username:  p.identity.Username,
			Elo:       p.identity.Elo,
			IsGuest:   p.identity.IsGuest,
			AvatarURL: p.identity.AvatarURL,
			Ready:     p.ready,
		})
		conns = append(conns, p.conn)
		if p.ready {
			readyCount++
		}
	}
	m.mu.Unlock()

	sort.SliceStable(players, func(i, j int) bool { return players[i].Elo > players[j].Elo })

	msg := lobbyPlayersMsg{
		Type:       "lobby_players",
		Players:    players,
		ReadyCount: readyCount,
		TotalCount: len(players),
	}
	for _, c := range conns {
		c.Send(msg)
	}
}

func (m *Matchmaker) broadcast(categoryKey string, msg any) {
	m.mu.Lock()
	conns := make([]Conn, 0, len(m.lobbies[categoryKey]))
	for _, p := range m.lobbies[categoryKey] {
		conns = append(conns, p.conn)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Send(msg)
	}
}

func (m *Matchmaker) findLocked(conn Conn) (string, *lobbyPlayer) {
	for categoryKey, lobby := range m.lobbies {
		for _, p := range lobby {
			if p.conn == conn {
				return categoryKey, p
			}
		}
	}
	return "", nil
}

func (m *Matchmaker) findByUserIDLocked(categoryKey, userID string) *lobbyPlayer {
	if userID == "" {
		return nil
	}
	for _, p := range m.lobbies[categoryKey] {
		if p.identity.UserID == userID {
			return p
		}
	}
	return nil
}

func (m *Matchmaker) removeLocked(conn Conn) (string, *lobbyPlayer) {
	for categoryKey, lobby := range m.lobbies {
		for i, p := range lobby {
			if p.conn == conn {
				m.lobbies[categoryKey] = append(lobby[:i], lobby[i+1:]...)
				return categoryKey, p
			}
		}
	}
	return "", nil
}

func (m *Matchmaker) removePlayerLocked(categoryKey string, player *lobbyPlayer) {
	lobby := m.lobbies[categoryKey]
	for i, p := range lobby {
		if p == player {
			m.lobbies[categoryKey] = append(lobby[:i], lobby[i+1:]...)
			return
		}
	}
}

func (m *Matchmaker) cancelInvitesLocked(player *lobbyPlayer) {
	for key, invite := range m.invites {
		if invite.from == player || invite.to == player {
			delete(m.invites, key)
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
