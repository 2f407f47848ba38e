package main

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	Debug      bool   `env:"DEBUG"`

	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING,required"`
	BoardsTable             string `env:"BOARDS_TABLE" envDefault:"boards"`
	ListsTable              string `env:"LISTS_TABLE" envDefault:"lists"`
	CardsTable              string `env:"CARDS_TABLE" envDefault:"cards"`
	UsersTable              string `env:"USERS_TABLE" envDefault:"users"`
	// EventRelayQueue holds events whose broadcast failed. Empty disables it.
	EventRelayQueue string `env:"EVENT_RELAY_QUEUE"`

	RedisConnectionString string        `env:"REDIS_CONNECTION_STRING,required"`
	BoardEventsChannel    string        `env:"BOARD_EVENTS_CHANNEL" envDefault:"board-events"`
	ListCacheTTL          time.Duration `env:"LIST_CACHE_TTL" envDefault:"5m"`

	Auth0Audience string `env:"AUTH0_AUDIENCE"`
	Auth0Domain   string `env:"AUTH0_DOMAIN"`
	// AuthTestSecret switches token verification to a shared HS256 secret.
	// Local development only.
	AuthTestSecret string `env:"AUTH_TEST_SECRET"`
}

// LoadConfig reads a .env file when present, then parses the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
