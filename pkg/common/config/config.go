package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers     []string
	KafkaGroupID     string
	AlertsKafkaTopic string
	VitalsKafkaTopic string

	// Inference provider
	InferenceBaseURL      string
	InferenceAPIKey       string
	InferenceTokenURL     string
	InferenceClientID     string
	InferenceClientSecret string
	InferenceModelName    string
	InferenceTimeout      time.Duration

	// Telegram delivery
	TelegramBotToken     string
	TelegramChatID       string
	TelegramDoctorChatID string
	TelegramTimeout      time.Duration

	// Rules
	RulesConfigPath  string
	PrivacyRulesPath string

	// Pipeline
	SchedulerInterval time.Duration
	MediaTTL          time.Duration
	DedupCooldown     time.Duration
	HistoryLimit      int
	HistoryWindow     time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 8*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "healthguard"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "healthguard123"),
		PostgresDB:       getEnv("POSTGRES_DB", "healthguard"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:     getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "healthguard-monitor"),
		AlertsKafkaTopic: getEnv("ALERTS_KAFKA_TOPIC", "alerts"),
		VitalsKafkaTopic: getEnv("VITALS_KAFKA_TOPIC", "vitals"),

		InferenceBaseURL:      getEnv("INFERENCE_BASE_URL", "https://api.venice.ai/api/v1"),
		InferenceAPIKey:       getEnv("INFERENCE_API_KEY", ""),
		InferenceTokenURL:     getEnv("INFERENCE_TOKEN_URL", ""),
		InferenceClientID:     getEnv("INFERENCE_CLIENT_ID", ""),
		InferenceClientSecret: getEnv("INFERENCE_CLIENT_SECRET", ""),
		InferenceModelName:    getEnv("INFERENCE_MODEL_NAME", "llama-3.3-70b"),
		InferenceTimeout:      getDuration("INFERENCE_TIMEOUT", 20*time.Second),

		TelegramBotToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:       getEnv("TELEGRAM_CHAT_ID", ""),
		TelegramDoctorChatID: getEnv("TELEGRAM_DOCTOR_CHAT_ID", ""),
		TelegramTimeout:      getDuration("TELEGRAM_TIMEOUT", 10*time.Second),

		RulesConfigPath:  getEnv("RULES_CONFIG_PATH", ""),
		PrivacyRulesPath: getEnv("PRIVACY_RULES_PATH", ""),

		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 60*time.Second),
		MediaTTL:          getDuration("MEDIA_TTL", 60*time.Second),
		DedupCooldown:     getDuration("ALERT_DEDUP_COOLDOWN", 5*time.Minute),
		HistoryLimit:      getIntEnv("HISTORY_LIMIT", 50),
		HistoryWindow:     getDuration("HISTORY_WINDOW", 7*24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
