package coordinator

import (
	"context"
	"fmt"

	"github.com/rocketscienceinc/supertictactoe-backend/internal/engine"
)

// ConnectionRegistry reports which seats of a room currently hold a live
// connection. During recovery this is the ground truth; persisted
// connectivity flags are never trusted.
type ConnectionRegistry interface {
	LiveSeats(roomCode string) (x, o bool)
}

// Recover runs once at process start, before any live event is processed. It
// reconciles every persisted session record against the connections already
// attached to the process: orphaned rooms are deleted, engines are rebuilt
// verbatim from snapshots, and rooms whose two seats are both live but have
// no snapshot get a fresh match, exactly as AttachSeat would have started.
func (that *Coordinator) Recover(ctx context.Context, registry ConnectionRegistry) error {
	log := that.logger.With("method", "Recover")

	records, err := that.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persisted rooms: %w", err)
	}

	restored, dropped := 0, 0

	for _, record := range records {
		x, o := registry.LiveSeats(record.Code)
		record.XConnected = x
		record.OConnected = o

		if record.BothDisconnected() {
			if err = that.repo.DeleteByCode(ctx, record.Code); err != nil {
				log.Error("failed to delete orphaned room", "room", record.Code, "error", err)
			}
			dropped++
			continue
		}

		rm := &room{record: record}

		switch {
		case record.Game != nil:
			rm.game = engine.Restore(*record.Game)
		case record.BothConnected():
			rm.game = engine.New()
			snap := rm.game.Snapshot()
			record.Game = &snap
			record.Result = snap.Result
		}

		if err = that.repo.CreateOrUpdate(ctx, record); err != nil {
			return fmt.Errorf("failed to persist recovered room %s: %w", record.Code, err)
		}

		that.mu.Lock()
		that.rooms[record.Code] = rm
		that.mu.Unlock()
		restored++
	}

	log.Info("recovery complete", "restored", restored, "dropped", dropped)

	return nil
}
