// Package config loads server settings from the environment, with an optional
// .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	// Server
	Port        string
	Environment string
	// PublicHost is the externally reachable host used when building the
	// media stream callback URL handed to the telephony vendor.
	PublicHost string

	// Call handling
	MaxConcurrentCalls int
	StaleCallMaxAge    time.Duration
	StaleSweepInterval time.Duration
	MaxResponseLatency time.Duration

	// Audio
	SampleRate        int
	ChunkDurationMs   int
	BufferWindowMs    int
	SilenceThreshold  float64
	VADEnabled        bool
	MaxBufferedChunks int

	// Twilio
	TwilioAccountSID         string
	TwilioAuthToken          string
	ValidateTwilioSignatures bool

	// Speech and generation vendors
	DeepgramAPIKey    string
	GoogleProjectID   string
	GeminiAPIKey      string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	// Storage
	MongoURI      string
	MongoDatabase string
	RedisURL      string
	SnapshotTTL   time.Duration

	// Auth
	JWTSecret string
}

// Load reads configuration from the environment. A missing .env file is not
// an error; explicit environment variables always win over file values.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		PublicHost:  getEnv("PUBLIC_HOST", "localhost:8080"),

		MaxConcurrentCalls: getEnvInt("MAX_CONCURRENT_CALLS", 50),
		StaleCallMaxAge:    getEnvDuration("STALE_CALL_MAX_AGE", 30*time.Minute),
		StaleSweepInterval: getEnvDuration("STALE_SWEEP_INTERVAL", 5*time.Minute),
		MaxResponseLatency: getEnvDuration("MAX_RESPONSE_LATENCY", 2*time.Second),

		SampleRate:        getEnvInt("AUDIO_SAMPLE_RATE", 8000),
		ChunkDurationMs:   getEnvInt("AUDIO_CHUNK_DURATION_MS", 20),
		BufferWindowMs:    getEnvInt("AUDIO_BUFFER_WINDOW_MS", 200),
		SilenceThreshold:  getEnvFloat("AUDIO_SILENCE_THRESHOLD", 0.01),
		VADEnabled:        getEnvBool("AUDIO_VAD_ENABLED", true),
		MaxBufferedChunks: getEnvInt("AUDIO_MAX_BUFFERED_CHUNKS", 100),

		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		ValidateTwilioSignatures: getEnvBool("VALIDATE_TWILIO_SIGNATURES", true),

		DeepgramAPIKey:    getEnv("DEEPGRAM_API_KEY", ""),
		GoogleProjectID:   getEnv("GOOGLE_PROJECT_ID", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", ""),

		MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "receptionist"),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SnapshotTTL:   getEnvDuration("SNAPSHOT_TTL", time.Hour),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

// IsProduction reports whether the server runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
