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

	"github.com/mahaj/chatwithme/pkg/api"
	"github.com/mahaj/chatwithme/pkg/auth"
	"github.com/mahaj/chatwithme/pkg/config"
	"github.com/mahaj/chatwithme/pkg/db"
	"github.com/mahaj/chatwithme/pkg/fanout"
	"github.com/mahaj/chatwithme/pkg/presence"
	"github.com/mahaj/chatwithme/pkg/realtime"
	"github.com/mahaj/chatwithme/pkg/service"
	"github.com/mahaj/chatwithme/pkg/snowflake"
	"github.com/mahaj/chatwithme/pkg/store"
	"github.com/mahaj/chatwithme/pkg/store/badgerstore"
	"github.com/mahaj/chatwithme/pkg/store/scyllastore"
	"github.com/mama165/sdk-go/logs"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the REST API and the push channel into one process and blocks
// until a signal or a server error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing store...")
		_ = st.Close()
	}()

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		SecretKey: []byte(cfg.SecretKey),
		TTL:       cfg.TokenTTL,
		Issuer:    cfg.TokenIssuer,
	})
	if err != nil {
		return err
	}

	var tracker presence.Tracker = presence.Nop{}
	if cfg.RedisAddr != "" {
		rdb := presence.NewRedis(cfg.RedisAddr, log)
		if err := rdb.Ping(ctx); err != nil {
			return fmt.Errorf("redis at %s: %w", cfg.RedisAddr, err)
		}
		defer rdb.Close()
		tracker = rdb
	}

	ids, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return err
	}

	// The hub needs the service for membership checks and the service needs
	// a publisher that ends at the hub, so the authorizer is bound late.
	var svc *service.ChatService
	hub := realtime.NewHub(tokens, log,
		realtime.WithRoomAuthorizer(realtime.RoomAuthorizerFunc(func(ctx context.Context, roomID, userID string) (bool, error) {
			return svc.IsMember(ctx, roomID, userID)
		})),
		realtime.WithPresence(tracker),
		realtime.WithAllowedOrigin(cfg.AllowedOrigin),
	)
	go hub.Run(ctx)

	dispatcher := fanout.NewDispatcher(hub, log)
	var publisher fanout.Publisher = fanout.NewLocalBus(dispatcher)
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		bus := fanout.NewKafkaBus(brokers, cfg.KafkaTopic, log)
		defer bus.Close()
		publisher = bus

		consumer := fanout.NewConsumer(brokers, cfg.KafkaTopic, fanout.ReplicaGroupID("api"), dispatcher, log)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("Consumer stopped", "error", err)
			}
		}()
	}

	svc = service.New(service.Deps{
		Store:     st,
		Hasher:    auth.Argon2Hasher{},
		Tokens:    tokens,
		Publisher: publisher,
		IDs:       ids,
		Presence:  tracker,
		Log:       log,
	})

	if !cfg.IsProduction() && cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if err := svc.BootstrapAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.RouterConfig{
			Handler:       api.NewHandler(svc, log),
			Gate:          auth.NewGate(tokens, log),
			Realtime:      hub,
			AllowedOrigin: cfg.AllowedOrigin,
			Log:           log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("API service starting", "address", server.Addr, "store", cfg.StoreDriver, "kafka", len(cfg.Brokers()) > 0)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("Program stopped cleanly")
	return nil
}

func openStore(cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreScylla:
		session, err := db.NewSession(cfg.Scylla(), cfg.ScyllaKeyspace, log)
		if err != nil {
			return nil, fmt.Errorf("connect to scylla: %w", err)
		}
		return scyllastore.New(session, log), nil
	default:
		st, err := badgerstore.Open(cfg.BadgerPath, log)
		if err != nil {
			return nil, fmt.Errorf("database opening failed: %w", err)
		}
		return st, nil
	}
}
