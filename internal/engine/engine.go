package engine

import (
	"fmt"

	"github.com/rocketscienceinc/supertictactoe-backend/internal/apperror"
)

const (
	PlayerX = "X"
	PlayerO = "O"

	ResultDraw = "-"
	ResultNone = ""

	EmptyCell = ""

	boardCount = 9
	cellCount  = 9
)

// WinLines is the standard 8-line check: 3 rows, 3 columns, 2 diagonals.
// It is applied both to the cells of a local board and to the 9 local
// results forming the meta board.
var WinLines = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// LocalBoard is one of the 9 ordinary 3x3 boards. Result is set once
// (PlayerX, PlayerO or ResultDraw) and never cleared.
type LocalBoard struct {
	Cells  [cellCount]string `json:"cells"`
	Result string            `json:"result"`
}

// Snapshot is an immutable copy of the engine state, used both for
// broadcasting to clients and for persistence. Callers never receive an
// alias to the engine's internal boards.
type Snapshot struct {
	Boards        [boardCount]LocalBoard `json:"boards"`
	CurrentPlayer string                 `json:"currentPlayer"`
	ActiveBoards  []int                  `json:"activeBoards"`
	Result        string                 `json:"result"`
}

// Engine is the state machine for one nested match. It is not safe for
// concurrent use; the room coordinator serializes access per room.
type Engine struct {
	boards        [boardCount]LocalBoard
	currentPlayer string
	activeBoards  []int
	result        string
}

// New returns a fresh match: empty boards, X to move, every board active.
func New() *Engine {
	active := make([]int, boardCount)
	for i := range active {
		active[i] = i
	}

	return &Engine{
		currentPlayer: PlayerX,
		activeBoards:  active,
	}
}

// Restore rebuilds an engine verbatim from a persisted snapshot.
func Restore(snap Snapshot) *Engine {
	active := make([]int, len(snap.ActiveBoards))
	copy(active, snap.ActiveBoards)

	return &Engine{
		boards:        snap.Boards,
		currentPlayer: snap.CurrentPlayer,
		activeBoards:  active,
		result:        snap.Result,
	}
}

// Apply plays the current player's mark into the given cell of the given
// local board. Validity is re-derived from the authoritative active set,
// never trusted from the caller. On success the next active set is computed
// and the turn passes, unless the move produced a match result, in which
// case the active set becomes empty and no further moves are accepted.
func (that *Engine) Apply(localIndex, cellIndex int) error {
	if that.result != ResultNone {
		return apperror.ErrGameFinished
	}

	if localIndex < 0 || localIndex >= boardCount || cellIndex < 0 || cellIndex >= cellCount {
		return fmt.Errorf("%w: board %d cell %d", apperror.ErrInvalidCell, localIndex, cellIndex)
	}

	if !that.isActive(localIndex) {
		return fmt.Errorf("%w: board %d", apperror.ErrBoardInactive, localIndex)
	}

	board := &that.boards[localIndex]
	if board.Cells[cellIndex] != EmptyCell {
		return apperror.ErrCellOccupied
	}

	board.Cells[cellIndex] = that.currentPlayer
	board.Result = checkResult(board.Cells)

	if board.Result != ResultNone {
		var results [boardCount]string
		for i := range that.boards {
			results[i] = that.boards[i].Result
		}

		if global := checkResult(results); global != ResultNone {
			that.result = global
			that.activeBoards = nil
			return nil
		}
	}

	// The played cell index points at the next local board. If that board
	// is already finished, every unfinished board becomes active.
	if that.boards[cellIndex].Result != ResultNone {
		that.activeBoards = that.unfinishedBoards()
	} else {
		that.activeBoards = []int{cellIndex}
	}

	that.currentPlayer = toggleMark(that.currentPlayer)

	return nil
}

// Snapshot returns a deep copy of the current state.
func (that *Engine) Snapshot() Snapshot {
	active := make([]int, len(that.activeBoards))
	copy(active, that.activeBoards)

	return Snapshot{
		Boards:        that.boards,
		CurrentPlayer: that.currentPlayer,
		ActiveBoards:  active,
		Result:        that.result,
	}
}

func (that *Engine) CurrentPlayer() string {
	return that.currentPlayer
}

func (that *Engine) Result() string {
	return that.result
}

func (that *Engine) IsFinished() bool {
	return that.result != ResultNone
}

func (that *Engine) isActive(localIndex int) bool {
	for _, i := range that.activeBoards {
		if i == localIndex {
			return true
		}
	}
	return false
}

func (that *Engine) unfinishedBoards() []int {
	var boards []int
	for i := range that.boards {
		if that.boards[i].Result == ResultNone {
			boards = append(boards, i)
		}
	}
	return boards
}

func toggleMark(currentMark string) string {
	if currentMark == PlayerX {
		return PlayerO
	}
	return PlayerX
}

// checkResult runs the 8-line win check over 9 fields. A line wins only if
// all three fields hold the same non-draw mark; draw fields act as filler
// and never form a line. All fields occupied with no line is a draw.
func checkResult(fields [9]string) string {
	for _, line := range WinLines {
		a, b, c := fields[line[0]], fields[line[1]], fields[line[2]]
		if a != EmptyCell && a != ResultDraw && a == b && b == c {
			return a
		}
	}

	for _, field := range fields {
		if field == EmptyCell {
			return ResultNone
		}
	}

	return ResultDraw
}
