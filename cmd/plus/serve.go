package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/config"
	"github.com/Carrie-PLH/plus/internal/logging"
	"github.com/Carrie-PLH/plus/internal/server"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := catalog.Load(cfg.Access.CatalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	backends, closeBackends, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackends()

	srv, err := server.New(ctx, cfg, c, backends, logger)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(":" + cfg.Server.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-quit:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}

// connect opens the configured backends. Unset addresses leave the
// matching backend nil.
func connect(cfg *config.Config, logger *zap.Logger) (server.Backends, func(), error) {
	var b server.Backends
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.Addr != "" {
		redis, err := storage.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return b, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		b.Redis = redis
		closers = append(closers, func() { redis.Close() })
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Database.URL != "" {
		pg, err := storage.NewPostgres(cfg.Database.URL, cfg.Database.Debug)
		if err != nil {
			closeAll()
			return b, nil, err
		}
		closers = append(closers, func() { pg.Close() })
		if err := pg.AutoMigrate(); err != nil {
			closeAll()
			return b, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		b.Postgres = pg
		logger.Info("connected to database")
	}

	return b, closeAll, nil
}
