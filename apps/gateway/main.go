// Command gateway runs a push-only replica: it holds websocket connections
// and delivers messages published by the api service over Kafka. It has no
// store, so "join chat" is accepted without a membership check.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/chatwithme/pkg/auth"
	"github.com/mahaj/chatwithme/pkg/config"
	"github.com/mahaj/chatwithme/pkg/fanout"
	"github.com/mahaj/chatwithme/pkg/presence"
	"github.com/mahaj/chatwithme/pkg/realtime"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return errors.New("gateway needs KAFKA_BROKERS")
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		SecretKey: []byte(cfg.SecretKey),
		TTL:       cfg.TokenTTL,
		Issuer:    cfg.TokenIssuer,
	})
	if err != nil {
		return err
	}

	opts := []realtime.Option{realtime.WithAllowedOrigin(cfg.AllowedOrigin)}
	if cfg.RedisAddr != "" {
		rdb := presence.NewRedis(cfg.RedisAddr, log)
		if err := rdb.Ping(ctx); err != nil {
			return fmt.Errorf("redis at %s: %w", cfg.RedisAddr, err)
		}
		defer rdb.Close()
		opts = append(opts, realtime.WithPresence(rdb))
	}

	hub := realtime.NewHub(tokens, log, opts...)
	go hub.Run(ctx)

	consumer := fanout.NewConsumer(brokers, cfg.KafkaTopic, fanout.ReplicaGroupID("gateway"), fanout.NewDispatcher(hub, log), log)
	defer consumer.Close()
	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error("Consumer stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("GET /ws", hub)
	server := &http.Server{Addr: cfg.GatewayAddr(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Gateway service starting", "address", server.Addr, "topic", cfg.KafkaTopic)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
