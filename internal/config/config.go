package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultJWTSecret is only accepted in dev.
const DefaultJWTSecret = "counsel-dev-secret"

type Config struct {
	Env            string
	Addr           string
	DatabaseURL    string
	MigrationsDir  string
	CORSOrigin     string
	MeiliURL       string
	MeiliMasterKey string
	// Identity provider: a shared HS256 secret, or a JWKS endpoint when set.
	JWTSecret string
	JWKSURL   string
	// Redis fans realtime events out across API instances. Empty keeps them in-process.
	RedisURL string
	// Checkpoints
	HistoryDir      string
	CheckpointEvery int
	// Presence
	PresenceTimeout time.Duration
	PresenceSweep   time.Duration
	// Export artifact bucket, disabled when MinioEndpoint is empty.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	ExportURLTTL   time.Duration
}

func Load() Config {
	return Config{
		Env:             getenv("COUNSEL_ENV", "dev"),
		Addr:            getenv("API_ADDR", ":8787"),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		MigrationsDir:   getenv("COUNSEL_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:      getenv("COUNSEL_CORS_ORIGIN", "*"),
		MeiliURL:        getenv("MEILI_URL", ""),
		MeiliMasterKey:  getenv("MEILI_MASTER_KEY", ""),
		JWTSecret:       getenv("COUNSEL_JWT_SECRET", DefaultJWTSecret),
		JWKSURL:         getenv("COUNSEL_JWKS_URL", ""),
		RedisURL:        getenv("REDIS_URL", ""),
		HistoryDir:      getenv("COUNSEL_HISTORY_DIR", "./data/history"),
		CheckpointEvery: getenvInt("COUNSEL_CHECKPOINT_EVERY", 25),
		PresenceTimeout: time.Duration(getenvInt("COUNSEL_PRESENCE_TIMEOUT_SECONDS", 30)) * time.Second,
		PresenceSweep:   time.Duration(getenvInt("COUNSEL_PRESENCE_SWEEP_SECONDS", 5)) * time.Second,
		MinioEndpoint:   getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:  getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:     getenv("MINIO_BUCKET", "counsel-exports"),
		MinioUseSSL:     getenvBool("MINIO_USE_SSL", false),
		ExportURLTTL:    getenvDuration("COUNSEL_EXPORT_URL_TTL", 15*time.Minute),
	}
}

func (c Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "development"
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration accepts Go duration syntax ("90s", "15m").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
