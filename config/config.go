package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Channel  ChannelConfig
	Capture  CaptureConfig
	Relay    RelayConfig
	API      APIConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds join-token signing settings. Tokens are minted at session
// create and validated at the channel upgrade.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// ChannelConfig holds client-side channel transport settings.
type ChannelConfig struct {
	WSURL              string // e.g. ws://localhost:8080/ws
	ReconnectAttempts  int    // attempts before terminal connectivity fault
	ReconnectDelaySec  int    // fixed base delay between attempts
	ConnectTimeoutSec  int
	PingIntervalSec    int
	OutboxBatchSize    int
	OutboxBatchDelayMs int
}

// CaptureConfig holds recorder and upload settings.
type CaptureConfig struct {
	TranscriptSliceSec    int   // accumulated audio per transcription ship
	ChunkSizeBytes        int64 // direct-vs-chunked upload threshold and part size
	UploadRetries         int
	UploadRetryBackoffSec int
}

// RelayConfig holds relay-server presence settings.
type RelayConfig struct {
	HeartbeatTimeoutSec int // participants silent past this are evicted
}

// APIConfig holds the REST backend settings: the base URL the client core
// calls, the public origin join URLs point at, and server-side ingest paths.
type APIConfig struct {
	BaseURL        string
	PublicBaseURL  string // origin embedded in join URLs
	SpoolDir       string // staging dir for uploaded payloads
	SpeechEndpoint string // external speech-to-text service
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/collab?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "collab"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "collab-recordings-bucket"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Channel: ChannelConfig{
			WSURL:              getEnv("CHANNEL_WS_URL", "ws://localhost:8080/ws"),
			ReconnectAttempts:  getEnvInt("CHANNEL_RECONNECT_ATTEMPTS", 5),
			ReconnectDelaySec:  getEnvInt("CHANNEL_RECONNECT_DELAY_SEC", 3),
			ConnectTimeoutSec:  getEnvInt("CHANNEL_CONNECT_TIMEOUT_SEC", 10),
			PingIntervalSec:    getEnvInt("CHANNEL_PING_INTERVAL_SEC", 30),
			OutboxBatchSize:    getEnvInt("CHANNEL_OUTBOX_BATCH_SIZE", 5),
			OutboxBatchDelayMs: getEnvInt("CHANNEL_OUTBOX_BATCH_DELAY_MS", 500),
		},
		Capture: CaptureConfig{
			TranscriptSliceSec:    getEnvInt("CAPTURE_TRANSCRIPT_SLICE_SEC", 15),
			ChunkSizeBytes:        getEnvInt64("CAPTURE_CHUNK_SIZE_BYTES", 5*1024*1024),
			UploadRetries:         getEnvInt("CAPTURE_UPLOAD_RETRIES", 3),
			UploadRetryBackoffSec: getEnvInt("CAPTURE_UPLOAD_RETRY_BACKOFF_SEC", 3),
		},
		Relay: RelayConfig{
			HeartbeatTimeoutSec: getEnvInt("RELAY_HEARTBEAT_TIMEOUT_SEC", 90),
		},
		API: APIConfig{
			BaseURL:        getEnv("API_BASE_URL", "http://localhost:8080"),
			PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
			SpoolDir:       getEnv("SPOOL_DIR", "/tmp/collab-spool"),
			SpeechEndpoint: getEnv("SPEECH_ENDPOINT", "http://localhost:9000/recognize"),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
