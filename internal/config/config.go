package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// Evolution API (WhatsApp gateway)
	EvolutionAPIURL      string
	EvolutionAPIKey      string
	EvolutionInstance    string
	WebhookURL           string
	WhatsAppWebhookToken string
	TestingMode          bool
	TestOwnerPhone       string
	WebhookRateLimit     float64
	WebhookBurst         int

	// Contact normalization
	DefaultRegion         string
	LegacyTolerantRegions []string
	PhoneLaxValidation    bool
	MaxUploadBytes        int64

	// Dispatch
	DispatchInterval time.Duration

	// Copy generation
	LLMProvider    string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModelID  string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	InboundQueueURL     string
	UseMemoryQueue      bool
	WorkerCount         int
	UploadBucket        string

	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SessionTTL:           getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		SessionSweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 15*time.Minute),

		EvolutionAPIURL:      strings.TrimRight(getEnv("EVOLUTION_API_URL", ""), "/"),
		EvolutionAPIKey:      getEnv("EVOLUTION_API_KEY", ""),
		EvolutionInstance:    getEnv("EVOLUTION_INSTANCE_NAME", ""),
		WebhookURL:           strings.TrimRight(getEnv("WEBHOOK_URL", ""), "/"),
		WhatsAppWebhookToken: getEnv("WHATSAPP_WEBHOOK_TOKEN", ""),
		TestingMode:          getEnvAsBool("TESTING_MODE", false),
		TestOwnerPhone:       getEnv("TEST_OWNER_PHONE", ""),
		WebhookRateLimit:     getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookBurst:         getEnvAsInt("WEBHOOK_BURST", 40),

		DefaultRegion:         strings.ToUpper(getEnv("DEFAULT_REGION", "BR")),
		LegacyTolerantRegions: getEnvAsList("LEGACY_TOLERANT_REGIONS", []string{"BR"}),
		PhoneLaxValidation:    getEnvAsBool("PHONE_LAX_VALIDATION", true),
		MaxUploadBytes:        int64(getEnvAsInt("MAX_UPLOAD_BYTES", 10*1024*1024)),

		DispatchInterval: getEnvAsDuration("DISPATCH_INTERVAL", time.Second),

		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		InboundQueueURL:     getEnv("INBOUND_QUEUE_URL", ""),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 1),
		UploadBucket:        getEnv("UPLOAD_BUCKET", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, upper-casing region codes.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
