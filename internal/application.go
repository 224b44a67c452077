package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/supertictactoe-backend/internal/config"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/coordinator"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/repository"
	"github.com/rocketscienceinc/supertictactoe-backend/internal/repository/storage"
	"github.com/rocketscienceinc/supertictactoe-backend/transport/websocket"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// RunApp - runs the application. The recovery pass completes before the
// server accepts any traffic.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	redisAddrString := conf.Redis.GetRedisAddr()
	if redisAddrString == "" {
		return ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, redisAddrString)
	if err != nil {
		return fmt.Errorf("could not connect to redis storage: %w", err)
	}

	defer func() {
		if err = redisStorage.Close(); err != nil {
			log.Error("could not close redis storage", "error", err)
		}
	}()

	roomRepo := repository.NewRoomRepository(redisStorage)
	registry := websocket.NewRegistry(logger)
	rooms := coordinator.New(logger, roomRepo, registry)

	if err = rooms.Recover(ctx, registry); err != nil {
		return fmt.Errorf("could not recover persisted rooms: %w", err)
	}

	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.HTTPPort)
		wsServer := websocket.New(logger, rooms, registry)
		if wsErr := wsServer.Start(ctx, conf.HTTPPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}
