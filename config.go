package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"whitewall/chain"
	"whitewall/genapi"
)

// Service constants.
const (
	// DefaultListenAddr is the HTTP listen address.
	DefaultListenAddr = ":8080"

	// PromptMaxLen caps the user prompt length in runes before trimming.
	PromptMaxLen = 500

	// Image generation rate window: 3 requests per minute per owner.
	ImageRateLimit  = 3
	ImageRateWindow = 60 * time.Second

	// Video generation is stricter: 2 requests per 2 minutes.
	VideoRateLimit  = 2
	VideoRateWindow = 120 * time.Second

	// Record tiers attached to image and video decisions.
	ImageTier = 2
	VideoTier = 3

	// FeedPageLimit and FeedPageMax bound pagination page sizes.
	FeedPageLimit = 20
	FeedPageMax   = 50

	// FeedPollInterval paces the live feed SSE poll loop.
	FeedPollInterval = 2 * time.Second
)

// Config holds service configuration values.
type Config struct {
	ListenAddr string

	RedisAddr     string
	RedisPassword string

	RPCURL            string
	ValidatorContract string

	GenAPIBaseURL string
	GenAPIKey     string

	BlobBaseURL string
	BlobToken   string
}

// LoadConfigFromEnv builds a config from the process environment.
func LoadConfigFromEnv() *Config {
	return &Config{
		ListenAddr:        envOr("LISTEN_ADDR", DefaultListenAddr),
		RedisAddr:         envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RPCURL:            envOr("CHAIN_RPC_URL", chain.DefaultRPCURL),
		ValidatorContract: envOr("VALIDATOR_CONTRACT", chain.DefaultValidator),
		GenAPIBaseURL:     envOr("GEN_API_BASE_URL", genapi.DefaultBaseURL),
		GenAPIKey:         os.Getenv("GEN_API_KEY"),
		BlobBaseURL:       os.Getenv("BLOB_BASE_URL"),
		BlobToken:         os.Getenv("BLOB_TOKEN"),
	}
}

// ValidateConfig applies structural checks to Config and populates
// defaults where required.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.RedisAddr == "" {
		return fmt.Errorf("RedisAddr must be set")
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = chain.DefaultRPCURL
	}
	if cfg.ValidatorContract == "" {
		cfg.ValidatorContract = chain.DefaultValidator
	}
	if cfg.GenAPIBaseURL == "" {
		cfg.GenAPIBaseURL = genapi.DefaultBaseURL
	}
	if cfg.GenAPIKey == "" {
		return fmt.Errorf("GenAPIKey must be set")
	}
	if cfg.BlobBaseURL == "" || cfg.BlobToken == "" {
		return fmt.Errorf("BlobBaseURL and BlobToken must be set")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
