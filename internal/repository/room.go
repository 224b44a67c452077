package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/apperror"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/entity"
)

const roomKeyPrefix = "room:"

type RoomRepository interface {
	CreateOrUpdate(ctx context.Context, room *entity.Room) error
	GetByCode(ctx context.Context, code string) (*entity.Room, error)
	DeleteByCode(ctx context.Context, code string) error
	ListAll(ctx context.Context) ([]*entity.Room, error)
}

type dbRoom struct {
	client *redis.Client
}

func NewRoomRepository(client *redis.Client) RoomRepository {
	return &dbRoom{
		client: client,
	}
}

func (that *dbRoom) CreateOrUpdate(ctx context.Context, room *entity.Room) error {
	roomJSON, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("could not marshal room: %w", err)
	}

	if err = that.client.Set(ctx, roomKeyPrefix+room.Code, roomJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to set room: %w", err)
	}

	return nil
}

func (that *dbRoom) GetByCode(ctx context.Context, code string) (*entity.Room, error) {
	response, err := that.client.Get(ctx, roomKeyPrefix+code).Result()

	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrRoomNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get room by code: %w", err)
	}

	var room entity.Room
	if err = json.Unmarshal([]byte(response), &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	return &room, nil
}

func (that *dbRoom) DeleteByCode(ctx context.Context, code string) error {
	if err := that.client.Del(ctx, roomKeyPrefix+code).Err(); err != nil {
		return fmt.Errorf("failed to delete room by code: %w", err)
	}

	return nil
}

// ListAll scans every persisted room record. Used only by the recovery pass
// at process start, never during normal operation.
func (that *dbRoom) ListAll(ctx context.Context) ([]*entity.Room, error) {
	var rooms []*entity.Room

	iter := that.client.Scan(ctx, 0, roomKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		response, err := that.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get room %s: %w", iter.Val(), err)
		}

		var room entity.Room
		if err = json.Unmarshal([]byte(response), &room); err != nil {
			return nil, fmt.Errorf("failed to unmarshal room %s: %w", iter.Val(), err)
		}

		rooms = append(rooms, &room)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan rooms: %w", err)
	}

	return rooms, nil
}
