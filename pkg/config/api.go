package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment           string
	Addr                  string
	LogLevel              string
	DatabaseURL           string
	MigrationsDir         string
	TokenEncryptionKey    string
	ProviderTimeout       time.Duration
	PipelineConcurrency   int
	BuildConcurrency      int
	SyncStreamLifetime    time.Duration
	RateLimitRedisAddr    string
	RateLimitRedisPass    string
	RateLimitRedisDB      int
	RateLimitRedisTimeout time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:           GetString("APP_ENV", "development"),
		Addr:                  GetString("API_ADDR", ":9000"),
		LogLevel:              GetString("LOG_LEVEL", "info"),
		DatabaseURL:           GetString("DATABASE_URL", "postgres://metrik:metrik@db:5432/metrik?sslmode=disable"),
		MigrationsDir:         GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		TokenEncryptionKey:    GetString("TOKEN_ENCRYPTION_KEY", "supersecuresecret"),
		ProviderTimeout:       GetDuration("PROVIDER_TIMEOUT", 30*time.Second),
		PipelineConcurrency:   GetInt("SYNC_PIPELINE_CONCURRENCY", 4),
		BuildConcurrency:      GetInt("SYNC_BUILD_CONCURRENCY", 8),
		SyncStreamLifetime:    GetDuration("SYNC_STREAM_LIFETIME", 10*time.Minute),
		RateLimitRedisAddr:    GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:    GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:      GetInt("RATE_LIMIT_REDIS_DB", 0),
		RateLimitRedisTimeout: GetDuration("RATE_LIMIT_REDIS_TIMEOUT", 250*time.Millisecond),
	}
}
