package websocket

import (
	"github.com/rocketscienceinc/supertictactoe-backend/internal/coordinator"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/engine"
)

const (
	actionInitial    = "initial"
	actionTakeTurn   = "takeTurn"
	actionRematch    = "rematch"
	actionDisconnect = "disconnect"
)

// clientMessage is the tagged inbound payload. Indices are pointers so a
// missing field can be told apart from a zero.
type clientMessage struct {
	Type       string `json:"type"`
	LocalIndex *int   `json:"localIndex,omitempty"`
	CellIndex  *int   `json:"cellIndex,omitempty"`
}

// allMessage is the initial-sync response: everything a client needs to
// resume without replaying history.
type allMessage struct {
	Type              string                 `json:"type"`
	Seat              string                 `json:"seat"`
	OpponentConnected bool                   `json:"opponentConnected"`
	Board             *[9]engine.LocalBoard  `json:"board"`
	CurrentPlayer     string                 `json:"currentPlayer,omitempty"`
	ActiveBoards      []int                  `json:"activeBoards"`
	Result            string                 `json:"result"`
	Flipped           bool                   `json:"flipped"`
	RematchVote       string                 `json:"rematchVote"`
}

type stateMessage struct {
	Type          string                `json:"type"`
	Board         [9]engine.LocalBoard  `json:"board"`
	CurrentPlayer string                `json:"currentPlayer"`
	ActiveBoards  []int                 `json:"activeBoards"`
	Result        string                `json:"result"`
}

type opponentMessage struct {
	Type              string `json:"type"`
	OpponentConnected bool   `json:"opponentConnected"`
}

type flipMessage struct {
	Type    string `json:"type"`
	Flipped bool   `json:"flipped"`
}

type rematchMessage struct {
	Type        string `json:"type"`
	RematchVote string `json:"rematchVote"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// messageForEvent maps a coordinator event to its outbound wire form.
func messageForEvent(event coordinator.Event) any {
	switch e := event.(type) {
	case coordinator.StateEvent:
		return stateMessage{
			Type:          "state",
			Board:         e.Snapshot.Boards,
			CurrentPlayer: e.Snapshot.CurrentPlayer,
			ActiveBoards:  e.Snapshot.ActiveBoards,
			Result:        e.Result,
		}
	case coordinator.PresenceEvent:
		return opponentMessage{Type: "opponent", OpponentConnected: e.OpponentConnected}
	case coordinator.RematchEvent:
		return rematchMessage{Type: "rematch", RematchVote: e.Vote}
	case coordinator.FlipEvent:
		return flipMessage{Type: "flip", Flipped: e.Flipped}
	default:
		return nil
	}
}

func allMessageForView(view coordinator.RoomView) allMessage {
	msg := allMessage{
		Type:              "all",
		Seat:              view.Seat,
		OpponentConnected: view.OpponentConnected,
		Result:            view.Result,
		Flipped:           view.Flipped,
		RematchVote:       view.RematchVote,
	}

	if view.Game != nil {
		msg.Board = &view.Game.Boards
		msg.CurrentPlayer = view.Game.CurrentPlayer
		msg.ActiveBoards = view.Game.ActiveBoards
	}

	return msg
}
