package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string
	WSAddr     string

	RedisURL    string
	DatabaseURL string

	JoinTimeout time.Duration
	TurnTimeout time.Duration
	GracePeriod time.Duration
	SessionTTL  time.Duration

	FeeRate float64

	SettleSweepInterval time.Duration

	MsgTemplateDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:          ":8080",
		WSAddr:              ":8081",
		JoinTimeout:         5 * time.Minute,
		TurnTimeout:         2 * time.Minute,
		GracePeriod:         60 * time.Second,
		SessionTTL:          24 * time.Hour,
		FeeRate:             0.05,
		SettleSweepInterval: 30 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("WS_ADDR")); v != "" {
		cfg.WSAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MsgTemplateDir = strings.TrimSpace(os.Getenv("MSG_TEMPLATE_DIR"))

	if v := strings.TrimSpace(os.Getenv("JOIN_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.JoinTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("TURN_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TurnTimeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("GRACE_PERIOD")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.GracePeriod = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SessionTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("SETTLE_SWEEP_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SettleSweepInterval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("FEE_RATE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f < 1 {
			cfg.FeeRate = f
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
