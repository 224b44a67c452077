package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/supertictactoe-backend/internal/apperror"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/engine"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/entity"
)

var errStoreDown = errors.New("store down")

// memoryRepo is an in-memory RoomRepository double. Records are deep-copied
// on the way in and out, like a real store would round-trip them.
type memoryRepo struct {
	mu         sync.Mutex
	rooms      map[string]*entity.Room
	failWrites bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rooms: make(map[string]*entity.Room)}
}

func cloneRoom(room *entity.Room) *entity.Room {
	clone := *room
	if room.Game != nil {
		snap := *room.Game
		snap.ActiveBoards = append([]int(nil), room.Game.ActiveBoards...)
		clone.Game = &snap
	}
	return &clone
}

func (that *memoryRepo) CreateOrUpdate(_ context.Context, room *entity.Room) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.failWrites {
		return errStoreDown
	}

	that.rooms[room.Code] = cloneRoom(room)
	return nil
}

func (that *memoryRepo) GetByCode(_ context.Context, code string) (*entity.Room, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	room, ok := that.rooms[code]
	if !ok {
		return nil, apperror.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (that *memoryRepo) DeleteByCode(_ context.Context, code string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.rooms, code)
	return nil
}

func (that *memoryRepo) ListAll(_ context.Context) ([]*entity.Room, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	var rooms []*entity.Room
	for _, room := range that.rooms {
		rooms = append(rooms, cloneRoom(room))
	}
	return rooms, nil
}

type sentEvent struct {
	code  string
	seat  entity.Seat // SeatNone for broadcasts
	event Event
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (that *recordingNotifier) Broadcast(code string, event Event) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.events = append(that.events, sentEvent{code: code, event: event})
}

func (that *recordingNotifier) NotifySeat(code string, seat entity.Seat, event Event) {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.events = append(that.events, sentEvent{code: code, seat: seat, event: event})
}

func (that *recordingNotifier) reset() {
	that.mu.Lock()
	defer that.mu.Unlock()
	that.events = nil
}

func (that *recordingNotifier) all() []sentEvent {
	that.mu.Lock()
	defer that.mu.Unlock()
	return append([]sentEvent(nil), that.events...)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *memoryRepo, *recordingNotifier) {
	t.Helper()

	repo := newMemoryRepo()
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(logger, repo, notifier), repo, notifier
}

// openFullRoom opens a room and attaches both seats.
func openFullRoom(t *testing.T, c *Coordinator) string {
	t.Helper()

	ctx := context.Background()

	code, err := c.OpenRoom(ctx)
	require.NoError(t, err)

	seat, err := c.AttachSeat(ctx, code)
	require.NoError(t, err)
	require.Equal(t, entity.SeatX, seat)

	seat, err = c.AttachSeat(ctx, code)
	require.NoError(t, err)
	require.Equal(t, entity.SeatO, seat)

	return code
}

// finishMatch forces the room's match into a decided state. Tests use it to
// reach the rematch phase without replaying a whole game.
func finishMatch(t *testing.T, c *Coordinator, code string, winner string) {
	t.Helper()

	rm, err := c.getRoom(code)
	require.NoError(t, err)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	snap := rm.game.Snapshot()
	snap.Result = winner
	snap.ActiveBoards = nil
	rm.game = engine.Restore(snap)
	rm.record.Game = &snap
	rm.record.Result = winner
}

func TestCoordinator_OpenRoom(t *testing.T) {
	ctx := context.Background()
	c, repo, _ := newTestCoordinator(t)

	// When: a room is opened
	code, err := c.OpenRoom(ctx)

	// Then: a valid code is returned and an empty record is persisted
	require.NoError(t, err)
	require.NoError(t, ValidateRoomCode(code))

	record, err := repo.GetByCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, code, record.Code)
	require.False(t, record.XConnected)
	require.False(t, record.OConnected)
	require.Nil(t, record.Game)
}

func TestCoordinator_AttachSeat(t *testing.T) {
	t.Run("AssignsXThenOThenFull", func(t *testing.T) {
		ctx := context.Background()
		c, repo, notifier := newTestCoordinator(t)

		code, err := c.OpenRoom(ctx)
		require.NoError(t, err)

		// When: the first player connects
		seat, err := c.AttachSeat(ctx, code)
		require.NoError(t, err)
		require.Equal(t, entity.SeatX, seat)

		// Then: no match exists yet
		record, err := repo.GetByCode(ctx, code)
		require.NoError(t, err)
		require.True(t, record.XConnected)
		require.Nil(t, record.Game)

		notifier.reset()

		// When: the second player connects
		seat, err = c.AttachSeat(ctx, code)
		require.NoError(t, err)
		require.Equal(t, entity.SeatO, seat)

		// Then: a fresh match is started and persisted
		record, err = repo.GetByCode(ctx, code)
		require.NoError(t, err)
		require.True(t, record.BothConnected())
		require.NotNil(t, record.Game)
		require.Equal(t, engine.PlayerX, record.Game.CurrentPlayer)
		require.Len(t, record.Game.ActiveBoards, 9)

		// Then: the peer hears about the opponent, both hear the state
		events := notifier.all()
		require.Len(t, events, 2)
		require.Equal(t, entity.SeatX, events[0].seat)
		require.Equal(t, PresenceEvent{OpponentConnected: true}, events[0].event)
		require.IsType(t, StateEvent{}, events[1].event)

		// When: a third connection arrives
		_, err = c.AttachSeat(ctx, code)

		// Then: the room is full
		require.ErrorIs(t, err, apperror.ErrRoomFull)
	})

	t.Run("UnknownRoom", func(t *testing.T) {
		c, _, _ := newTestCoordinator(t)

		_, err := c.AttachSeat(context.Background(), "AAAAAA")
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})
}

func TestCoordinator_DetachSeat(t *testing.T) {
	t.Run("PeerNotifiedWhileOneRemains", func(t *testing.T) {
		ctx := context.Background()
		c, repo, notifier := newTestCoordinator(t)
		code := openFullRoom(t, c)
		notifier.reset()

		// When: O disconnects
		require.NoError(t, c.DetachSeat(ctx, code, entity.SeatO))

		// Then: the record reflects it and X is told
		record, err := repo.GetByCode(ctx, code)
		require.NoError(t, err)
		require.True(t, record.XConnected)
		require.False(t, record.OConnected)

		events := notifier.all()
		require.Len(t, events, 1)
		require.Equal(t, entity.SeatX, events[0].seat)
		require.Equal(t, PresenceEvent{OpponentConnected: false}, events[0].event)
	})

	t.Run("RoomDeletedWhenBothGone", func(t *testing.T) {
		ctx := context.Background()
		c, repo, _ := newTestCoordinator(t)
		code := openFullRoom(t, c)

		// When: both seats disconnect
		require.NoError(t, c.DetachSeat(ctx, code, entity.SeatO))
		require.NoError(t, c.DetachSeat(ctx, code, entity.SeatX))

		// Then: the room and its record cease to exist, immediately
		_, err := repo.GetByCode(ctx, code)
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)

		_, err = c.InitialSync(ctx, code, entity.SeatX)
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)

		// Then: late events to the deleted room report RoomNotFound
		err = c.SubmitMove(ctx, code, entity.SeatX, 4, 4)
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})
}

func TestCoordinator_SubmitMove(t *testing.T) {
	t.Run("RejectedBeforeMatchStarts", func(t *testing.T) {
		ctx := context.Background()
		c, _, _ := newTestCoordinator(t)

		code, err := c.OpenRoom(ctx)
		require.NoError(t, err)
		_, err = c.AttachSeat(ctx, code)
		require.NoError(t, err)

		err = c.SubmitMove(ctx, code, entity.SeatX, 4, 4)
		require.ErrorIs(t, err, apperror.ErrGameIsNotStarted)
	})

	t.Run("TurnOrderEnforced", func(t *testing.T) {
		ctx := context.Background()
		c, repo, notifier := newTestCoordinator(t)
		code := openFullRoom(t, c)
		notifier.reset()

		// When: O tries to move first
		err := c.SubmitMove(ctx, code, entity.SeatO, 4, 4)

		// Then: rejected, nothing broadcast
		require.ErrorIs(t, err, apperror.ErrNotYourTurn)
		require.Empty(t, notifier.all())

		// When: X moves
		require.NoError(t, c.SubmitMove(ctx, code, entity.SeatX, 4, 4))

		// Then: the snapshot is persisted and broadcast to the room
		record, err := repo.GetByCode(ctx, code)
		require.NoError(t, err)
		require.Equal(t, engine.PlayerX, record.Game.Boards[4].Cells[4])
		require.Equal(t, []int{4}, record.Game.ActiveBoards)
		require.Equal(t, engine.PlayerO, record.Game.CurrentPlayer)

		events := notifier.all()
		require.Len(t, events, 1)
		require.Equal(t, entity.SeatNone, events[0].seat)
		state, ok := events[0].event.(StateEvent)
		require.True(t, ok)
		assert.Equal(t, []int{4}, state.Snapshot.ActiveBoards)
	})

	t.Run("InvalidMoveLeavesStateUntouched", func(t *testing.T) {
		ctx := context.Background()
		c, repo, _ := newTestCoordinator(t)
		code := openFullRoom(t, c)

		require.NoError(t, c.SubmitMove(ctx, code, entity.SeatX, 4, 4))
		before, err := repo.GetByCode(ctx, code)
		require.NoError(t, err)

		// When: O targets the occupied cell
		err = c.SubmitMove(ctx, code, entity.SeatO, 4, 4)
		require.ErrorIs(t, err, apperror.ErrCellOccupied)

		// When: O targets a board outside the active set
		err = c.SubmitMove(ctx, code, entity.SeatO, 0, 0)
		require.ErrorIs(t, err, apperror.ErrBoardInactive)

		// Then: the persisted record is unchanged
		after, err := repo.GetByCode(ctx, code)
		require.NoError(t, err)
		require.Equal(t, before, after)
	})

	t.Run("RejectedAfterMatchEnds", func(t *testing.T) {
		ctx := context.Background()
		c, _, _ := newTestCoordinator(t)
		code := openFullRoom(t, c)
		finishMatch(t, c, code, engine.PlayerX)

		err := c.SubmitMove(ctx, code, entity.SeatX, 4, 4)
		require.ErrorIs(t, err, apperror.ErrGameFinished)
	})
}

func TestCoordinator_Rematch(t *testing.T) {
	t.Run("GatedOnFinishedMatch", func(t *testing.T) {
		ctx := context.Background()
		c, _, _ := newTestCoordinator(t)
		code := openFullRoom(t, c)

		err := c.RequestRematch(ctx, code, entity.SeatX)
		require.ErrorIs(t, err, apperror.ErrGameNotFinished)
	})

	t.Run("VoteCastAndWithdrawn", func(t *testing.T) {
		ctx := context.Background()
		c, repo, notifier := newTestCoordinator(t)
		code := openFullRoom(t, c)
		finishMatch(t, c, code, engine.PlayerX)
		notifier.reset()

		// When: X votes
		require.NoError(t, c.RequestRematch(ctx, code, entity.SeatX))

		record, err := repo.GetByCode(ctx, code)
		require.NoError(t, err)
		require.Equal(t, entity.SeatX, record.RematchVote)

		events := notifier.all()
		require.Len(t, events, 1)
		require.Equal(t, RematchEvent{Vote: "X"}, events[0].event)

		// When: X votes again before the peer answers
		require.NoError(t, c.RequestRematch(ctx, code, entity.SeatX))

		// Then: the vote is withdrawn
		record, err = repo.GetByCode(ctx, code)
		require.NoError(t, err)
		require.Equal(t, entity.SeatNone, record.RematchVote)
		require.Equal(t, RematchEvent{}, notifier.all()[1].event)
	})

	t.Run("ConfirmFlipsSeatsAndStartsFresh", func(t *testing.T) {
		ctx := context.Background()
		c, repo, notifier := newTestCoordinator(t)
		code := openFullRoom(t, c)
		finishMatch(t, c, code, engine.PlayerO)

		require.NoError(t, c.RequestRematch(ctx, code, entity.SeatX))
		notifier.reset()

		// When: the opposing seat votes too
		require.NoError(t, c.RequestRematch(ctx, code, entity.SeatO))

		// Then: the board flips, votes clear, a fresh match is persisted
		record, err := repo.GetByCode(ctx, code)
		require.NoError(t, err)
		require.True(t, record.BoardFlipped)
		require.Equal(t, entity.SeatNone, record.RematchVote)
		require.Equal(t, "", record.Result)
		require.Equal(t, engine.PlayerX, record.Game.CurrentPlayer)
		require.Len(t, record.Game.ActiveBoards, 9)

		// Then: flip, state and cleared vote all reach both seats
		events := notifier.all()
		require.Len(t, events, 3)
		require.Equal(t, FlipEvent{Flipped: true}, events[0].event)
		require.IsType(t, StateEvent{}, events[1].event)
		require.Equal(t, RematchEvent{}, events[2].event)

		// Then: the seat that was O now holds the X label and moves first
		err = c.SubmitMove(ctx, code, entity.SeatX, 4, 4)
		require.ErrorIs(t, err, apperror.ErrNotYourTurn)
		require.NoError(t, c.SubmitMove(ctx, code, entity.SeatO, 4, 4))
	})

	t.Run("SecondRematchRestoresOriginalLabels", func(t *testing.T) {
		ctx := context.Background()
		c, repo, _ := newTestCoordinator(t)
		code := openFullRoom(t, c)

		finishMatch(t, c, code, engine.PlayerX)
		require.NoError(t, c.RequestRematch(ctx, code, entity.SeatX))
		require.NoError(t, c.RequestRematch(ctx, code, entity.SeatO))

		finishMatch(t, c, code, engine.PlayerX)
		require.NoError(t, c.RequestRematch(ctx, code, entity.SeatO))
		require.NoError(t, c.RequestRematch(ctx, code, entity.SeatX))

		record, err := repo.GetByCode(ctx, code)
		require.NoError(t, err)
		require.False(t, record.BoardFlipped)

		// Then: canonical X moves first again
		require.NoError(t, c.SubmitMove(ctx, code, entity.SeatX, 4, 4))
	})
}

func TestCoordinator_InitialSync(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	code := openFullRoom(t, c)

	require.NoError(t, c.SubmitMove(ctx, code, entity.SeatX, 4, 4))

	// When: seat O resyncs
	view, err := c.InitialSync(ctx, code, entity.SeatO)
	require.NoError(t, err)

	// Then: the view carries everything needed to resume
	require.Equal(t, "O", view.Seat)
	require.True(t, view.OpponentConnected)
	require.NotNil(t, view.Game)
	require.Equal(t, []int{4}, view.Game.ActiveBoards)
	require.Equal(t, engine.PlayerO, view.Game.CurrentPlayer)
	require.False(t, view.Flipped)
	require.Equal(t, "", view.RematchVote)

	// Given: a confirmed rematch flipped the labels
	finishMatch(t, c, code, engine.PlayerX)
	require.NoError(t, c.RequestRematch(ctx, code, entity.SeatX))
	require.NoError(t, c.RequestRematch(ctx, code, entity.SeatO))

	// When: seat O resyncs again
	view, err = c.InitialSync(ctx, code, entity.SeatO)
	require.NoError(t, err)

	// Then: its client-visible label is now X
	require.Equal(t, "X", view.Seat)
	require.True(t, view.Flipped)
}

func TestCoordinator_PersistFailureTearsRoomDown(t *testing.T) {
	ctx := context.Background()
	c, repo, _ := newTestCoordinator(t)
	code := openFullRoom(t, c)

	// Given: the store stops accepting writes
	repo.mu.Lock()
	repo.failWrites = true
	repo.mu.Unlock()

	// When: a move mutates the room but the record cannot be written
	err := c.SubmitMove(ctx, code, entity.SeatX, 4, 4)

	// Then: the failure surfaces and the room is gone rather than left
	// to diverge from the store
	require.ErrorIs(t, err, errStoreDown)

	_, err = c.InitialSync(ctx, code, entity.SeatX)
	require.ErrorIs(t, err, apperror.ErrRoomNotFound)
}
