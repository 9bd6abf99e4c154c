package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-companion/backend/internal/config"
	"github.com/zhouzirui/z-companion/backend/internal/handler"
	"github.com/zhouzirui/z-companion/backend/internal/logger"
	"github.com/zhouzirui/z-companion/backend/internal/service/ai"
	"github.com/zhouzirui/z-companion/backend/internal/service/chat"
	"github.com/zhouzirui/z-companion/backend/internal/service/memory"
	"github.com/zhouzirui/z-companion/backend/internal/store"
	"github.com/zhouzirui/z-companion/backend/internal/store/inmemory"
	"github.com/zhouzirui/z-companion/backend/internal/store/mongo"
	"github.com/zhouzirui/z-companion/backend/internal/store/sqlstore"
)

const drainTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.FromFormat(cfg.Log.Format, cfg.Log.Debug)
	slog.SetDefault(log)
	if envErr != nil {
		log.Debug("no .env file loaded, using system environment only", "error", envErr)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	log.Info("store ready", "driver", cfg.Store.Driver)

	client := ai.NewClient(cfg.Completion.URL, cfg.Completion.APIKey, cfg.Completion.Model, cfg.Completion.Timeout)
	gateway := ai.NewGateway(client, cfg.Completion.Replies, log)
	composer := ai.NewComposer(cfg.Persona.Prompt, st, log)

	var dispatcher *memory.Dispatcher
	var memoryDispatcher chat.MemoryDispatcher
	if cfg.Memory.Enabled {
		extractor, err := memory.NewExtractor(ctx, ai.NewChatModel(client), st, cfg.Memory.Window, log)
		if err != nil {
			return fmt.Errorf("failed to initialize memory extractor: %w", err)
		}
		dispatcher = memory.NewDispatcher(extractor, cfg.Memory.Timeout, log)
		memoryDispatcher = dispatcher
		log.Info("memory extraction enabled", "window", cfg.Memory.Window)
	} else {
		log.Info("memory extraction disabled by configuration")
	}

	chatSvc := chat.NewService(st, composer, gateway, memoryDispatcher, log)
	router := handler.NewRouter(cfg.Persona, chatSvc, cfg.Server.CORSOrigins, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("companion backend listening", "addr", cfg.Server.Addr, "persona", cfg.Persona.Name, "model", cfg.Completion.Model)
	serveErr := runServer(ctx, srv)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if dispatcher != nil {
		if err := dispatcher.Wait(drainCtx); err != nil {
			log.Warn("memory extractions still running at shutdown", "error", err)
		}
	}
	if err := st.Close(drainCtx); err != nil {
		log.Warn("failed to close store", "error", err)
	}
	return serveErr
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlstore.OpenSQLite(ctx, cfg.DSN)
	case config.DriverPostgres:
		return sqlstore.OpenPostgres(ctx, cfg.DSN)
	case config.DriverMongo:
		return mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return inmemory.New(), nil
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
