package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"whitewall/blob"
	"whitewall/chain"
	"whitewall/feedstore"
	"whitewall/genapi"
)

func main() {
	var addr = flag.String("addr", "", "HTTP listen address (overrides LISTEN_ADDR)")
	var logLevel = flag.String("log", "info", "Log level: error, warn, info, debug")
	flag.Parse()

	GetLogger().SetLevel(ParseLogLevel(*logLevel))

	cfg := LoadConfigFromEnv()
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if err := ValidateConfig(cfg); err != nil {
		GetLogger().Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	store := feedstore.New(rdb)

	hub := newFeedHub()
	orch := NewOrchestrator(
		store,
		chain.New(cfg.RPCURL, cfg.ValidatorContract),
		genapi.New(cfg.GenAPIBaseURL, cfg.GenAPIKey),
		blob.New(cfg.BlobBaseURL, cfg.BlobToken),
		hub.Publish,
	)
	server := NewWebServer(cfg, orch, NewFeedService(store), hub)

	go func() {
		GetLogger().Infof("Listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			GetLogger().Errorf("Server failed: %v", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	GetLogger().Infof("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		GetLogger().Warnf("Shutdown incomplete: %v", err)
	}
}
