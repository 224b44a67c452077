package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/apperror"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/coordinator"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/entity"
)

// roomService is the coordinator surface the transport consumes.
type roomService interface {
	OpenRoom(ctx context.Context) (string, error)
	AttachSeat(ctx context.Context, code string) (entity.Seat, error)
	DetachSeat(ctx context.Context, code string, seat entity.Seat) error
	SubmitMove(ctx context.Context, code string, seat entity.Seat, localIndex, cellIndex int) error
	RequestRematch(ctx context.Context, code string, seat entity.Seat) error
	InitialSync(ctx context.Context, code string, seat entity.Seat) (coordinator.RoomView, error)
}

type Server struct {
	logger   *slog.Logger
	rooms    roomService
	registry *Registry
}

func New(logger *slog.Logger, rooms roomService, registry *Registry) *Server {
	return &Server{
		logger:   logger.With("component", "ws-server"),
		rooms:    rooms,
		registry: registry,
	}
}

// Start - starts the HTTP server with the room endpoints. Shuts down when
// the context is canceled.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/create", that.handleCreateRoom)
	mux.HandleFunc("GET /api/room/{code}", that.handleJoinRoom)
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// handleCreateRoom opens a fresh room and immediately upgrades the creator,
// who takes seat X.
func (that *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	code, err := that.rooms.OpenRoom(r.Context())
	if err != nil {
		that.logger.Error("failed to open room", "error", err)
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}

	that.serveRoom(w, r, code)
}

func (that *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	code := coordinator.NormalizeRoomCode(r.PathValue("code"))

	if err := coordinator.ValidateRoomCode(code); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	that.serveRoom(w, r, code)
}

// serveRoom assigns a seat, upgrades the connection and runs its read loop.
// Seat assignment happens before the upgrade so a full or unknown room can
// be refused with a plain HTTP status.
func (that *Server) serveRoom(w http.ResponseWriter, r *http.Request, code string) {
	log := that.logger.With("room", code)

	seat, err := that.rooms.AttachSeat(r.Context(), code)
	switch {
	case errors.Is(err, apperror.ErrRoomNotFound):
		http.Error(w, "room not found", http.StatusNotFound)
		return
	case errors.Is(err, apperror.ErrRoomFull):
		http.Error(w, "room is full", http.StatusConflict)
		return
	case err != nil:
		log.Error("failed to attach seat", "error", err)
		http.Error(w, "failed to join room", http.StatusInternalServerError)
		return
	}

	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("failed to accept websocket", "error", err)
		that.detachSeat(code, seat)
		return
	}

	conn := &connection{
		id:   uuid.NewString(),
		sock: sock,
		code: code,
		seat: seat,
	}

	that.registry.add(conn)
	log.Info("connection established", "seat", seat, "connection", conn.id)

	defer func() {
		that.registry.remove(conn)
		that.detachSeat(code, seat)
		sock.Close(websocket.StatusGoingAway, "server closing")
		log.Info("connection closed", "seat", seat, "connection", conn.id)
	}()

	that.readLoop(r.Context(), conn)
}

// detachSeat runs with a fresh context: the request context is already
// canceled when the defer fires, but the disconnect must still persist.
func (that *Server) detachSeat(code string, seat entity.Seat) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := that.rooms.DetachSeat(ctx, code, seat); err != nil && !errors.Is(err, apperror.ErrRoomNotFound) {
		that.logger.Error("failed to detach seat", "room", code, "seat", seat, "error", err)
	}
}

func (that *Server) readLoop(ctx context.Context, conn *connection) {
	log := that.logger.With("room", conn.code, "seat", conn.seat)

	for {
		msgType, data, err := conn.sock.Read(ctx)
		if err != nil {
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var msg clientMessage
		if err = json.Unmarshal(data, &msg); err != nil {
			log.Warn("malformed message", "error", err)
			that.sendError(conn, "malformed message")
			continue
		}

		if done := that.dispatch(ctx, conn, &msg); done {
			return
		}
	}
}

// dispatch routes one inbound message. It returns true when the connection
// should close. Errors are reported to the acting client only; they never
// affect the peer or another room.
func (that *Server) dispatch(ctx context.Context, conn *connection, msg *clientMessage) bool {
	switch msg.Type {
	case actionInitial:
		view, err := that.rooms.InitialSync(ctx, conn.code, conn.seat)
		if err != nil {
			that.sendError(conn, err.Error())
			return false
		}
		if err = writeMessage(conn.sock, allMessageForView(view)); err != nil {
			that.logger.Warn("failed to send initial sync", "room", conn.code, "error", err)
		}

	case actionTakeTurn:
		if msg.LocalIndex == nil || msg.CellIndex == nil {
			that.sendError(conn, "malformed message")
			return false
		}
		if err := that.rooms.SubmitMove(ctx, conn.code, conn.seat, *msg.LocalIndex, *msg.CellIndex); err != nil {
			that.sendError(conn, "invalid move: "+err.Error())
		}

	case actionRematch:
		if err := that.rooms.RequestRematch(ctx, conn.code, conn.seat); err != nil {
			that.sendError(conn, err.Error())
		}

	case actionDisconnect:
		conn.sock.Close(websocket.StatusNormalClosure, "client requested disconnect")
		return true

	default:
		that.sendError(conn, "unknown message type: "+msg.Type)
	}

	return false
}

func (that *Server) sendError(conn *connection, message string) {
	if err := writeMessage(conn.sock, errorMessage{Type: "error", Message: message}); err != nil {
		that.logger.Warn("failed to send error message", "room", conn.code, "error", err)
	}
}
