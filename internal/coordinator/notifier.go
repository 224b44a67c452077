package coordinator

import (
	"github.com/rocketscienceinc/supertictactoe-backend/internal/engine"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/entity"
)

// Event is a notification the coordinator emits synchronously after a
// mutation. There is no listener registration: the transport supplies one
// Notifier at construction time, so a rematch discarding an engine can never
// leave stale callbacks behind.
type Event any

// StateEvent carries the full board state after a successful move or a
// fresh match.
type StateEvent struct {
	Snapshot engine.Snapshot
	Result   string
}

// PresenceEvent reports whether both seats are currently connected.
type PresenceEvent struct {
	OpponentConnected bool
}

// RematchEvent carries the client-visible label of the seat holding the
// current rematch vote, or an empty string when no vote is cast.
type RematchEvent struct {
	Vote string
}

// FlipEvent reports the seat-label flip state after a confirmed rematch.
type FlipEvent struct {
	Flipped bool
}

// Notifier delivers events to connections attached to a room. Sends are
// fire-and-forget: a failed delivery to one seat must not abort processing
// for the other.
type Notifier interface {
	Broadcast(roomCode string, event Event)
	NotifySeat(roomCode string, seat entity.Seat, event Event)
}

// RoomView is the full current room view returned by InitialSync so a
// client can resume without replaying history. Seat and RematchVote are
// post-flip labels.
type RoomView struct {
	Seat              string
	OpponentConnected bool
	Game              *engine.Snapshot
	Result            string
	Flipped           bool
	RematchVote       string
}
