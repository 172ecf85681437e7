// Package config loads service configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every knob the discovery service reads from the environment.
type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"local"`
	HTTPPort      int    `env:"HTTP_PORT" envDefault:"8002"`
	TGAPIID       int    `env:"TG_API_ID,required"`
	TGAPIHash     string `env:"TG_API_HASH,required"`
	TGPhone       string `env:"TG_PHONE"`
	TG2FAPassword string `env:"TG_2FA_PASSWORD"`
	TGSessionPath string `env:"TG_SESSION_PATH" envDefault:"./tg.session"`

	DiscoveryDBPath  string `env:"DISCOVERY_DB_PATH" envDefault:"./data/discovery.db"`
	GroupsConfigPath string `env:"GROUPS_CONFIG_PATH" envDefault:"./data/group_configurations.json"`

	ScanPageSize   int           `env:"SCAN_PAGE_SIZE" envDefault:"100"`
	ScanBatchSize  int           `env:"SCAN_BATCH_SIZE" envDefault:"10"`
	ScanBatchDelay time.Duration `env:"SCAN_BATCH_DELAY" envDefault:"500ms"`
	ScanMaxChats   int           `env:"SCAN_MAX_CHATS" envDefault:"1000"`

	WSPushInterval time.Duration `env:"WS_PUSH_INTERVAL" envDefault:"5s"`
}

// Load reads .env (when present) and parses the environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
