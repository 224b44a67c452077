package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/apperror"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/engine"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/entity"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/repository"
)

const persistMaxRetries = 4

// room pairs the durable record with the live engine. Its mutex serializes
// every event for one room code; rooms never block each other.
type room struct {
	mu      sync.Mutex
	record  *entity.Room
	game    *engine.Engine
	deleted bool
}

// Coordinator is the in-memory authority for all active rooms. It owns the
// only mutable copy of every session record and engine; the store holds the
// last-written snapshot, read back only during recovery.
type Coordinator struct {
	logger   *slog.Logger
	repo     repository.RoomRepository
	notifier Notifier

	mu    sync.Mutex
	rooms map[string]*room
}

func New(logger *slog.Logger, repo repository.RoomRepository, notifier Notifier) *Coordinator {
	return &Coordinator{
		logger:   logger.With("component", "coordinator"),
		repo:     repo,
		notifier: notifier,
		rooms:    make(map[string]*room),
	}
}

// OpenRoom generates a code unused among currently open rooms, creates an
// empty session record and persists it.
func (that *Coordinator) OpenRoom(ctx context.Context) (string, error) {
	that.mu.Lock()
	code := generateRoomCode()
	for {
		if _, exists := that.rooms[code]; !exists {
			break
		}
		code = generateRoomCode()
	}

	rm := &room{record: entity.NewRoom(code)}
	that.rooms[code] = rm
	that.mu.Unlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if err := that.persist(ctx, rm); err != nil {
		return "", err
	}

	that.logger.Info("room opened", "room", code)

	return code, nil
}

// AttachSeat assigns X if unoccupied, else O, else rejects with ErrRoomFull.
// When the second seat connects and no match exists yet, a fresh engine is
// started and its state broadcast.
func (that *Coordinator) AttachSeat(ctx context.Context, code string) (entity.Seat, error) {
	rm, err := that.getRoom(code)
	if err != nil {
		return entity.SeatNone, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.deleted {
		return entity.SeatNone, apperror.ErrRoomNotFound
	}

	record := rm.record

	var seat entity.Seat
	switch {
	case !record.XConnected:
		seat = entity.SeatX
	case !record.OConnected:
		seat = entity.SeatO
	default:
		return entity.SeatNone, apperror.ErrRoomFull
	}

	record.SetSeatConnected(seat, true)

	started := false
	if record.BothConnected() && rm.game == nil {
		rm.game = engine.New()
		snap := rm.game.Snapshot()
		record.Game = &snap
		record.Result = snap.Result
		started = true
	}

	if err = that.persist(ctx, rm); err != nil {
		return entity.SeatNone, err
	}

	that.notifier.NotifySeat(code, seat.Opposite(), PresenceEvent{OpponentConnected: record.BothConnected()})

	if started {
		that.notifier.Broadcast(code, StateEvent{Snapshot: rm.game.Snapshot(), Result: record.Result})
	}

	that.logger.Info("seat attached", "room", code, "seat", seat)

	return seat, nil
}

// DetachSeat marks the seat disconnected. If both seats are now disconnected
// the room and its record are deleted immediately; there is no reconnection
// window. Otherwise the remaining peer is notified.
func (that *Coordinator) DetachSeat(ctx context.Context, code string, seat entity.Seat) error {
	rm, err := that.getRoom(code)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.deleted {
		return apperror.ErrRoomNotFound
	}

	record := rm.record
	record.SetSeatConnected(seat, false)

	if record.BothDisconnected() {
		that.dropRoom(ctx, rm)
		that.logger.Info("room deleted, both seats disconnected", "room", code)
		return nil
	}

	if err = that.persist(ctx, rm); err != nil {
		return err
	}

	that.notifier.NotifySeat(code, seat.Opposite(), PresenceEvent{OpponentConnected: false})

	that.logger.Info("seat detached", "room", code, "seat", seat)

	return nil
}

// SubmitMove validates the acting seat against the engine's current player
// and delegates to the engine. On success the new snapshot is persisted and
// broadcast to both seats.
func (that *Coordinator) SubmitMove(ctx context.Context, code string, seat entity.Seat, localIndex, cellIndex int) error {
	rm, err := that.getRoom(code)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.deleted {
		return apperror.ErrRoomNotFound
	}

	record := rm.record

	if rm.game == nil {
		return apperror.ErrGameIsNotStarted
	}

	if rm.game.IsFinished() {
		return apperror.ErrGameFinished
	}

	if rm.game.CurrentPlayer() != seat.Label(record.BoardFlipped) {
		return apperror.ErrNotYourTurn
	}

	if err = rm.game.Apply(localIndex, cellIndex); err != nil {
		return fmt.Errorf("failed to make turn: %w", err)
	}

	snap := rm.game.Snapshot()
	record.Game = &snap
	record.Result = snap.Result

	if err = that.persist(ctx, rm); err != nil {
		return err
	}

	that.notifier.Broadcast(code, StateEvent{Snapshot: snap, Result: snap.Result})

	return nil
}

// RequestRematch toggles the seat's vote: cast if unset, withdrawn if the
// same seat votes again. When both seats have voted in the same cycle the
// rematch confirms: seat labels flip, a fresh engine starts with the
// post-flip X moving first, and votes clear.
func (that *Coordinator) RequestRematch(ctx context.Context, code string, seat entity.Seat) error {
	rm, err := that.getRoom(code)
	if err != nil {
		return err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.deleted {
		return apperror.ErrRoomNotFound
	}

	record := rm.record

	if rm.game == nil {
		return apperror.ErrGameIsNotStarted
	}

	if record.Result == engine.ResultNone {
		return apperror.ErrGameNotFinished
	}

	if record.RematchVote == seat.Opposite() {
		record.BoardFlipped = !record.BoardFlipped
		record.RematchVote = entity.SeatNone
		rm.game = engine.New()
		snap := rm.game.Snapshot()
		record.Game = &snap
		record.Result = snap.Result

		if err = that.persist(ctx, rm); err != nil {
			return err
		}

		that.notifier.Broadcast(code, FlipEvent{Flipped: record.BoardFlipped})
		that.notifier.Broadcast(code, StateEvent{Snapshot: snap, Result: snap.Result})
		that.notifier.Broadcast(code, RematchEvent{})

		that.logger.Info("rematch confirmed", "room", code, "flipped", record.BoardFlipped)

		return nil
	}

	if record.RematchVote == seat {
		record.RematchVote = entity.SeatNone
	} else {
		record.RematchVote = seat
	}

	if err = that.persist(ctx, rm); err != nil {
		return err
	}

	vote := ""
	if record.RematchVote != entity.SeatNone {
		vote = record.RematchVote.Label(record.BoardFlipped)
	}
	that.notifier.Broadcast(code, RematchEvent{Vote: vote})

	return nil
}

// InitialSync returns the full current room view for a (re)connecting seat.
// The seat identity and rematch vote are translated to post-flip labels
// here, at the serialization boundary.
func (that *Coordinator) InitialSync(_ context.Context, code string, seat entity.Seat) (RoomView, error) {
	rm, err := that.getRoom(code)
	if err != nil {
		return RoomView{}, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.deleted {
		return RoomView{}, apperror.ErrRoomNotFound
	}

	record := rm.record

	view := RoomView{
		Seat:              seat.Label(record.BoardFlipped),
		OpponentConnected: record.BothConnected(),
		Result:            record.Result,
		Flipped:           record.BoardFlipped,
	}

	if rm.game != nil {
		snap := rm.game.Snapshot()
		view.Game = &snap
	}

	if record.RematchVote != entity.SeatNone {
		view.RematchVote = record.RematchVote.Label(record.BoardFlipped)
	}

	return view, nil
}

func (that *Coordinator) getRoom(code string) (*room, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	rm, ok := that.rooms[code]
	if !ok {
		return nil, apperror.ErrRoomNotFound
	}

	return rm, nil
}

// persist writes the record synchronously with respect to the triggering
// event, retrying transient store failures with exponential backoff. If the
// write still fails the room is torn down rather than left to diverge from
// the store: it vanishes from memory and later events get ErrRoomNotFound.
func (that *Coordinator) persist(ctx context.Context, rm *room) error {
	op := func() error {
		return that.repo.CreateOrUpdate(ctx, rm.record)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), persistMaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		that.logger.Error("room state write failed, tearing room down", "room", rm.record.Code, "error", err)
		that.dropRoom(ctx, rm)

		return fmt.Errorf("failed to persist room %s: %w", rm.record.Code, err)
	}

	return nil
}

// dropRoom removes a room from memory and best-effort deletes its record.
// Caller must hold rm.mu.
func (that *Coordinator) dropRoom(ctx context.Context, rm *room) {
	rm.deleted = true

	that.mu.Lock()
	delete(that.rooms, rm.record.Code)
	that.mu.Unlock()

	if err := that.repo.DeleteByCode(ctx, rm.record.Code); err != nil {
		that.logger.Error("failed to delete room record", "room", rm.record.Code, "error", err)
	}
}
