package tictactoe

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/metrics"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

// Notification kinds pushed to the players' TCP sessions.
const (
	eventStart  = "START"
	eventUpdate = "UPDATE"
	eventResign = "RESIGN"
)

// PresenceChecker reports whether a user currently has a presence entry.
type PresenceChecker interface {
	IsOnline(user string) bool
}

// Manager owns the active games and the busy-player index. A player can be
// in at most one active game at a time.
type Manager struct {
	mu     sync.Mutex
	games  map[int64]*Game
	byUser map[string]int64
	busy   set.Set[string]
	nextID int64

	presence PresenceChecker
	notifier types.SessionNotifier
}

// NewManager creates an empty manager. notifier pushes TICTACTOE_* lines to
// live TCP sessions; pass types.NoopNotifier{} when no hub is wired in.
func NewManager(presence PresenceChecker, notifier types.SessionNotifier) *Manager {
	return &Manager{
		games:    make(map[int64]*Game),
		byUser:   make(map[string]int64),
		busy:     set.New[string](),
		presence: presence,
		notifier: notifier,
	}
}

// Start creates a game between the initiator (who plays X and moves first)
// and the opponent. Both must be online and neither already in a game.
func (m *Manager) Start(initiator, opponent string) (Game, error) {
	if initiator == opponent {
		return Game{}, fmt.Errorf("%w: cannot play against yourself", types.ErrIllegalArgument)
	}
	if !m.presence.IsOnline(initiator) {
		return Game{}, fmt.Errorf("%w: %s is not online", types.ErrIllegalArgument, initiator)
	}
	if !m.presence.IsOnline(opponent) {
		return Game{}, fmt.Errorf("%w: %s is not online", types.ErrIllegalArgument, opponent)
	}

	m.mu.Lock()
	if m.busy.Has(initiator) || m.busy.Has(opponent) {
		m.mu.Unlock()
		return Game{}, fmt.Errorf("%w: a player is already in a game", types.ErrIllegalState)
	}

	m.nextID++
	g := NewGame(m.nextID, initiator, opponent)
	m.games[g.ID] = g
	m.byUser[initiator] = g.ID
	m.byUser[opponent] = g.ID
	m.busy.Insert(initiator, opponent)
	metrics.ActiveGames.Set(float64(len(m.games)))
	snap := *g
	m.mu.Unlock()

	logging.Info(context.Background(), "game started",
		zap.Int64("game_id", snap.ID),
		zap.String("player_x", initiator),
		zap.String("player_o", opponent))

	m.notifyBoth(snap, eventStart)
	return snap, nil
}

// Move applies the player's move. Terminal moves remove the game from the
// active index; the final snapshot still reaches both players.
func (m *Manager) Move(gameID int64, player string, row, col int) (Game, error) {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return Game{}, fmt.Errorf("%w: game %d", types.ErrNotFound, gameID)
	}
	if err := g.Move(player, row, col); err != nil {
		m.mu.Unlock()
		return Game{}, err
	}
	if g.Finished() {
		m.removeLocked(g)
	}
	snap := *g
	m.mu.Unlock()

	m.notifyBoth(snap, eventUpdate)
	return snap, nil
}

// Resign ends the player's game in the opponent's favor and removes it from
// the active index.
func (m *Manager) Resign(gameID int64, player string) (Game, error) {
	m.mu.Lock()
	g, ok := m.games[gameID]
	if !ok {
		m.mu.Unlock()
		return Game{}, fmt.Errorf("%w: game %d", types.ErrNotFound, gameID)
	}
	if err := g.Resign(player); err != nil {
		m.mu.Unlock()
		return Game{}, err
	}
	m.removeLocked(g)
	snap := *g
	m.mu.Unlock()

	logging.Info(context.Background(), "game resigned",
		zap.Int64("game_id", snap.ID), zap.String("player", player))

	m.notifyBoth(snap, eventResign)
	return snap, nil
}

// Current returns the user's active game, if any.
func (m *Manager) Current(user string) (Game, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byUser[user]
	if !ok {
		return Game{}, false
	}
	g, ok := m.games[id]
	if !ok {
		return Game{}, false
	}
	return *g, true
}

// Get returns the active game by id.
func (m *Manager) Get(gameID int64) (Game, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return Game{}, false
	}
	return *g, true
}

// AbandonAllFor drops the user's active game when their presence goes away,
// freeing both players for new games.
func (m *Manager) AbandonAllFor(user string) {
	m.mu.Lock()
	id, ok := m.byUser[user]
	if !ok {
		m.mu.Unlock()
		return
	}
	g := m.games[id]
	if g != nil {
		m.removeLocked(g)
	}
	m.mu.Unlock()
}

func (m *Manager) removeLocked(g *Game) {
	delete(m.games, g.ID)
	delete(m.byUser, g.PlayerX)
	delete(m.byUser, g.PlayerO)
	m.busy.Delete(g.PlayerX, g.PlayerO)
	metrics.ActiveGames.Set(float64(len(m.games)))
}

// notifyBoth pushes the frame to both players' TCP sessions, if live.
func (m *Manager) notifyBoth(g Game, event string) {
	line := frame(g, event)
	m.notifier.PushLine(g.PlayerX, line)
	m.notifier.PushLine(g.PlayerO, line)
}

// frame renders TICTACTOE_<event>:id:status:turn:winner with empty fields
// for a finished turn or an undecided winner.
func frame(g Game, event string) string {
	return fmt.Sprintf("TICTACTOE_%s:%d:%s:%s:%s", event, g.ID, g.Status, g.CurrentTurn, g.Winner)
}
