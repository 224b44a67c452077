package entity

import "github.com/rocketscienceinc/supertictactoe-backend/internal/engine"

// Room is the durable session record for one room, keyed by its code. It is
// written to the store as an opaque JSON blob on every mutation and read back
// only by the recovery pass after a restart.
type Room struct {
	Code         string           `json:"code"`
	Game         *engine.Snapshot `json:"game,omitempty"`
	Result       string           `json:"result,omitempty"`
	XConnected   bool             `json:"x_connected"`
	OConnected   bool             `json:"o_connected"`
	RematchVote  Seat             `json:"rematch_vote,omitempty"`
	BoardFlipped bool             `json:"board_flipped"`
}

func NewRoom(code string) *Room {
	return &Room{Code: code}
}

func (that *Room) SeatConnected(seat Seat) bool {
	if seat == SeatX {
		return that.XConnected
	}
	return that.OConnected
}

func (that *Room) SetSeatConnected(seat Seat, connected bool) {
	if seat == SeatX {
		that.XConnected = connected
		return
	}
	that.OConnected = connected
}

func (that *Room) BothConnected() bool {
	return that.XConnected && that.OConnected
}

func (that *Room) BothDisconnected() bool {
	return !that.XConnected && !that.OConnected
}
