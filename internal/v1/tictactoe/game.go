// Package tictactoe implements turn-based 3x3 games between two online
// users: a pure rules engine plus a manager that owns the active-game index
// and pushes updates to the players' TCP sessions.
package tictactoe

import (
	"fmt"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

// Marks placed on the board. Empty cells are "".
const (
	MarkX = "X"
	MarkO = "O"
)

// Status is the lifecycle state of a game.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusWonX       Status = "WON_X"
	StatusWonO       Status = "WON_O"
	StatusDraw       Status = "DRAW"
	StatusResigned   Status = "RESIGNED"
)

// Move records the most recent placement.
type Move struct {
	By  string `json:"by"`
	Row int    `json:"row"`
	Col int    `json:"col"`
}

// Game is one 3x3 game. PlayerX is the initiator and always moves first.
// CurrentTurn is empty once the game reaches a terminal status.
type Game struct {
	ID          int64        `json:"id"`
	PlayerX     string       `json:"playerX"`
	PlayerO     string       `json:"playerO"`
	Board       [3][3]string `json:"board"`
	CurrentTurn string       `json:"currentTurn,omitempty"`
	Status      Status       `json:"status"`
	Winner      string       `json:"winner,omitempty"`
	LastMove    *Move        `json:"lastMove,omitempty"`
}

// NewGame starts a game with playerX to move.
func NewGame(id int64, playerX, playerO string) *Game {
	return &Game{
		ID:          id,
		PlayerX:     playerX,
		PlayerO:     playerO,
		CurrentTurn: playerX,
		Status:      StatusInProgress,
	}
}

// Finished reports whether the game reached a terminal status.
func (g *Game) Finished() bool {
	return g.Status != StatusInProgress
}

// markOf returns the mark the player uses, or "" for non-participants.
func (g *Game) markOf(player string) string {
	switch player {
	case g.PlayerX:
		return MarkX
	case g.PlayerO:
		return MarkO
	default:
		return ""
	}
}

// Move places the player's mark at (row, col) and advances the game.
func (g *Game) Move(player string, row, col int) error {
	mark := g.markOf(player)
	if mark == "" {
		return fmt.Errorf("%w: %s is not a player in game %d", types.ErrIllegalArgument, player, g.ID)
	}
	if g.Finished() {
		return fmt.Errorf("%w: game %d is finished", types.ErrIllegalState, g.ID)
	}
	if player != g.CurrentTurn {
		return fmt.Errorf("%w: not %s's turn", types.ErrIllegalState, player)
	}
	if row < 0 || row > 2 || col < 0 || col > 2 {
		return fmt.Errorf("%w: position (%d,%d) is off the board", types.ErrIllegalArgument, row, col)
	}
	if g.Board[row][col] != "" {
		return fmt.Errorf("%w: position (%d,%d) is taken", types.ErrIllegalArgument, row, col)
	}

	g.Board[row][col] = mark
	g.LastMove = &Move{By: player, Row: row, Col: col}

	switch {
	case g.hasLine(mark):
		if mark == MarkX {
			g.Status = StatusWonX
		} else {
			g.Status = StatusWonO
		}
		g.Winner = player
		g.CurrentTurn = ""
	case g.boardFull():
		g.Status = StatusDraw
		g.CurrentTurn = ""
	default:
		if player == g.PlayerX {
			g.CurrentTurn = g.PlayerO
		} else {
			g.CurrentTurn = g.PlayerX
		}
	}
	return nil
}

// Resign ends the game in the opponent's favor.
func (g *Game) Resign(player string) error {
	if g.markOf(player) == "" {
		return fmt.Errorf("%w: %s is not a player in game %d", types.ErrIllegalArgument, player, g.ID)
	}
	if g.Finished() {
		return fmt.Errorf("%w: game %d is finished", types.ErrIllegalState, g.ID)
	}

	g.Status = StatusResigned
	if player == g.PlayerX {
		g.Winner = g.PlayerO
	} else {
		g.Winner = g.PlayerX
	}
	g.CurrentTurn = ""
	return nil
}

// hasLine checks the eight win lines for the mark.
func (g *Game) hasLine(mark string) bool {
	b := &g.Board
	for i := 0; i < 3; i++ {
		if b[i][0] == mark && b[i][1] == mark && b[i][2] == mark {
			return true
		}
		if b[0][i] == mark && b[1][i] == mark && b[2][i] == mark {
			return true
		}
	}
	if b[0][0] == mark && b[1][1] == mark && b[2][2] == mark {
		return true
	}
	return b[0][2] == mark && b[1][1] == mark && b[2][0] == mark
}

func (g *Game) boardFull() bool {
	for _, row := range g.Board {
		for _, cell := range row {
			if cell == "" {
				return false
			}
		}
	}
	return true
}
