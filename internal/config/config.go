package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config настройки процесса, читаются из окружения (и .env, если есть)
type Config struct {
	AppPort       string `env:"APP_PORT" envDefault:"8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"text"`

	// хранилище рейтингов: postgres, если задан DATABASE_URL, иначе sqlite, иначе память
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	ResultsStream string `env:"RESULTS_STREAM" envDefault:"game_results"`
	RateLimit     int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`

	JWTSecret string `env:"JWT_SECRET"`
	GamesDir  string `env:"GAMES_DIR" envDefault:"./games"`

	TickInterval      time.Duration `env:"TICK_INTERVAL" envDefault:"50ms"`
	MatchPollInterval time.Duration `env:"MATCH_POLL_INTERVAL" envDefault:"1s"`
	TicketExpiry      time.Duration `env:"TICKET_EXPIRY" envDefault:"60s"`
	StartGrace        time.Duration `env:"START_GRACE" envDefault:"5s"`
	RoomIdleGrace     time.Duration `env:"ROOM_IDLE_GRACE" envDefault:"30s"`
	HandlerTimeout    time.Duration `env:"HANDLER_TIMEOUT" envDefault:"100ms"`
	LaneQueueSize     int           `env:"LANE_QUEUE_SIZE" envDefault:"256"`
}

// Load читает .env (если файл существует) и переменные окружения
func Load() (Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate отбрасывает значения, с которыми планировщик не может работать
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.MatchPollInterval <= 0 {
		return fmt.Errorf("MATCH_POLL_INTERVAL must be positive, got %s", c.MatchPollInterval)
	}
	if c.TicketExpiry <= 0 {
		return fmt.Errorf("TICKET_EXPIRY must be positive, got %s", c.TicketExpiry)
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("HANDLER_TIMEOUT must be positive, got %s", c.HandlerTimeout)
	}
	if c.LaneQueueSize < 1 {
		return fmt.Errorf("LANE_QUEUE_SIZE must be >= 1, got %d", c.LaneQueueSize)
	}
	return nil
}

func (c Config) JSONLogs() bool {
	return c.LogFormat == "json"
}
