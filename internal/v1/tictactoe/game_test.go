package tictactoe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/types"
)

func TestNewGame_XMovesFirst(t *testing.T) {
	g := NewGame(1, "alice", "bob")
	assert.Equal(t, "alice", g.PlayerX)
	assert.Equal(t, "bob", g.PlayerO)
	assert.Equal(t, "alice", g.CurrentTurn)
	assert.Equal(t, StatusInProgress, g.Status)
}

func TestMove_Validation(t *testing.T) {
	g := NewGame(1, "alice", "bob")

	// Non-participant.
	assert.ErrorIs(t, g.Move("mallory", 0, 0), types.ErrIllegalArgument)
	// Out of turn.
	assert.ErrorIs(t, g.Move("bob", 0, 0), types.ErrIllegalState)
	// Off-board coordinates.
	assert.ErrorIs(t, g.Move("alice", 3, 0), types.ErrIllegalArgument)
	assert.ErrorIs(t, g.Move("alice", 0, -1), types.ErrIllegalArgument)

	require.NoError(t, g.Move("alice", 1, 1))
	// Occupied cell.
	assert.ErrorIs(t, g.Move("bob", 1, 1), types.ErrIllegalArgument)
}

func TestMove_AlternatesTurns(t *testing.T) {
	g := NewGame(1, "alice", "bob")

	require.NoError(t, g.Move("alice", 0, 0))
	assert.Equal(t, "bob", g.CurrentTurn)
	assert.Equal(t, MarkX, g.Board[0][0])
	require.Equal(t, &Move{By: "alice", Row: 0, Col: 0}, g.LastMove)

	require.NoError(t, g.Move("bob", 1, 1))
	assert.Equal(t, "alice", g.CurrentTurn)
	assert.Equal(t, MarkO, g.Board[1][1])
}

func TestWinDetection_AllLines(t *testing.T) {
	lines := [][3][2]int{
		{{0, 0}, {0, 1}, {0, 2}}, // rows
		{{1, 0}, {1, 1}, {1, 2}},
		{{2, 0}, {2, 1}, {2, 2}},
		{{0, 0}, {1, 0}, {2, 0}}, // columns
		{{0, 1}, {1, 1}, {2, 1}},
		{{0, 2}, {1, 2}, {2, 2}},
		{{0, 0}, {1, 1}, {2, 2}}, // diagonals
		{{0, 2}, {1, 1}, {2, 0}},
	}

	for _, line := range lines {
		g := NewGame(1, "alice", "bob")
		for _, cell := range line {
			g.Board[cell[0]][cell[1]] = MarkX
		}
		assert.True(t, g.hasLine(MarkX), "line %v", line)
		assert.False(t, g.hasLine(MarkO), "line %v", line)
	}
}

func TestMove_WinEndsGame(t *testing.T) {
	g := NewGame(1, "alice", "bob")

	// X: top row, O: middle row.
	require.NoError(t, g.Move("alice", 0, 0))
	require.NoError(t, g.Move("bob", 1, 0))
	require.NoError(t, g.Move("alice", 0, 1))
	require.NoError(t, g.Move("bob", 1, 1))
	require.NoError(t, g.Move("alice", 0, 2))

	assert.Equal(t, StatusWonX, g.Status)
	assert.Equal(t, "alice", g.Winner)
	assert.Empty(t, g.CurrentTurn)

	// No moves after a terminal state.
	assert.ErrorIs(t, g.Move("bob", 2, 2), types.ErrIllegalState)
}

func TestMove_OWins(t *testing.T) {
	g := NewGame(1, "alice", "bob")

	require.NoError(t, g.Move("alice", 0, 0))
	require.NoError(t, g.Move("bob", 1, 0))
	require.NoError(t, g.Move("alice", 0, 1))
	require.NoError(t, g.Move("bob", 1, 1))
	require.NoError(t, g.Move("alice", 2, 2))
	require.NoError(t, g.Move("bob", 1, 2))

	assert.Equal(t, StatusWonO, g.Status)
	assert.Equal(t, "bob", g.Winner)
}

func TestMove_Draw(t *testing.T) {
	g := NewGame(1, "alice", "bob")

	// X X O / O O X / X O X — full board, no line.
	moves := []struct {
		player   string
		row, col int
	}{
		{"alice", 0, 0}, {"bob", 0, 2}, {"alice", 0, 1},
		{"bob", 1, 0}, {"alice", 1, 2}, {"bob", 1, 1},
		{"alice", 2, 0}, {"bob", 2, 1}, {"alice", 2, 2},
	}
	for _, mv := range moves {
		require.NoError(t, g.Move(mv.player, mv.row, mv.col))
	}

	assert.Equal(t, StatusDraw, g.Status)
	assert.Empty(t, g.Winner)
	assert.Empty(t, g.CurrentTurn)
}

func TestResign(t *testing.T) {
	g := NewGame(1, "alice", "bob")

	assert.ErrorIs(t, g.Resign("mallory"), types.ErrIllegalArgument)

	require.NoError(t, g.Resign("alice"))
	assert.Equal(t, StatusResigned, g.Status)
	assert.Equal(t, "bob", g.Winner)
	assert.Empty(t, g.CurrentTurn)

	assert.ErrorIs(t, g.Resign("bob"), types.ErrIllegalState)
}
