package apperror

import "errors"

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrInvalidRoomCode = errors.New("invalid room code")

	ErrGameIsNotStarted = errors.New("game is not started")
	ErrGameFinished     = errors.New("game is already finished")
	ErrGameNotFinished  = errors.New("game is not finished yet")

	ErrNotYourTurn   = errors.New("it's not your turn")
	ErrCellOccupied  = errors.New("cell is already occupied")
	ErrBoardInactive = errors.New("board is not in the active set")
	ErrInvalidCell   = errors.New("invalid cell index")
)
