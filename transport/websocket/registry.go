package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/coordinator"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/entity"
)

const sendTimeout = 5 * time.Second

// connection is one accepted websocket, tagged with its room code and seat
// at accept time. The tag is immutable for the connection's lifetime.
type connection struct {
	id   string
	sock *websocket.Conn
	code string
	seat entity.Seat
}

// Registry tracks live connections per room and seat. It implements the
// coordinator's Notifier and the recovery loader's ConnectionRegistry.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[entity.Seat]*connection
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "ws-registry"),
		rooms:  make(map[string]map[entity.Seat]*connection),
	}
}

func (that *Registry) add(conn *connection) {
	that.mu.Lock()
	defer that.mu.Unlock()

	seats, ok := that.rooms[conn.code]
	if !ok {
		seats = make(map[entity.Seat]*connection)
		that.rooms[conn.code] = seats
	}
	seats[conn.seat] = conn
}

// remove drops the connection only if it is still the registered holder of
// its seat; a newer connection for the same seat is left untouched.
func (that *Registry) remove(conn *connection) {
	that.mu.Lock()
	defer that.mu.Unlock()

	seats, ok := that.rooms[conn.code]
	if !ok {
		return
	}

	if current, ok := seats[conn.seat]; ok && current.id == conn.id {
		delete(seats, conn.seat)
	}

	if len(seats) == 0 {
		delete(that.rooms, conn.code)
	}
}

// LiveSeats reports which seats of a room hold a live connection.
func (that *Registry) LiveSeats(roomCode string) (x, o bool) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	seats, ok := that.rooms[roomCode]
	if !ok {
		return false, false
	}

	_, x = seats[entity.SeatX]
	_, o = seats[entity.SeatO]

	return x, o
}

// Broadcast sends an event to every connection in the room. Sends are
// fire-and-forget; a failed write to one seat never aborts the other.
func (that *Registry) Broadcast(roomCode string, event coordinator.Event) {
	for _, conn := range that.roomConnections(roomCode) {
		that.send(conn, event)
	}
}

// NotifySeat sends an event to a single seat, if connected.
func (that *Registry) NotifySeat(roomCode string, seat entity.Seat, event coordinator.Event) {
	that.mu.RLock()
	conn := that.rooms[roomCode][seat]
	that.mu.RUnlock()

	if conn == nil {
		return
	}

	that.send(conn, event)
}

func (that *Registry) roomConnections(roomCode string) []*connection {
	that.mu.RLock()
	defer that.mu.RUnlock()

	conns := make([]*connection, 0, 2)
	for _, conn := range that.rooms[roomCode] {
		conns = append(conns, conn)
	}
	return conns
}

func (that *Registry) send(conn *connection, event coordinator.Event) {
	msg := messageForEvent(event)
	if msg == nil {
		that.logger.Error("unknown event type", "room", conn.code, "event", event)
		return
	}

	if err := writeMessage(conn.sock, msg); err != nil {
		that.logger.Warn("failed to send message", "room", conn.code, "seat", conn.seat, "error", err)
	}
}

func writeMessage(sock *websocket.Conn, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	return sock.Write(ctx, websocket.MessageText, data)
}
