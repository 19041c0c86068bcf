package config

import (
	"os"
	"strconv"
	"strings"
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
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	ReportCacheTTL time.Duration

	// Kafka
	KafkaBrokers      []string
	KafkaGroupID      string
	TriageEventsTopic string

	// Upload boundary
	UploadMaxBytes       int64
	UploadAllowedFormats []string

	// Transcription adapter
	TranscriptionURL     string
	TranscriptionAPIKey  string
	TranscriptionModel   string
	TranscriptionTimeout time.Duration

	// Extraction adapters
	NERModelURL         string
	ExtractionTimeout   time.Duration
	ExtractionRulesPath string
	TerminologyPath     string

	// Reconciler
	ReconcileOverlapFraction     float64
	ReconcileMinConfidence       float64
	ReconcileDisagreementPenalty float64

	// Triage engine
	TriageTimeout                time.Duration
	TriageRulesPath              string
	TriageHighRiskConfidence     float64
	TriageMultiResourceThreshold int
	TriageDegradedCeiling        float64
	TriagePartialCeiling         float64

	// Pipeline
	PipelineWorkers      int
	PipelineQueueSize    int
	StorageRetryAttempts int
	StorageRetryDelay    time.Duration

	// Gateway
	GatewayRateLimitRPS   int
	GatewayRateLimitBurst int
	CORSAllowedOrigin     string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 60*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 10*time.Minute),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 101*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "medtriage"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "medtriage123"),
		PostgresDB:       getEnv("POSTGRES_DB", "medtriage"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),
		ReportCacheTTL: getDuration("REPORT_CACHE_TTL", 15*time.Minute),

		KafkaBrokers:      getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "medtriage"),
		TriageEventsTopic: getEnv("TRIAGE_EVENTS_TOPIC", "triage-events"),

		UploadMaxBytes:       int64(getIntEnv("UPLOAD_MAX_BYTES", 100*1024*1024)),
		UploadAllowedFormats: getStringSliceEnv("UPLOAD_ALLOWED_FORMATS", []string{"wav", "mp3", "m4a", "flac", "ogg"}),

		TranscriptionURL:     getEnv("TRANSCRIPTION_URL", "http://localhost:9000/v1"),
		TranscriptionAPIKey:  getEnv("TRANSCRIPTION_API_KEY", ""),
		TranscriptionModel:   getEnv("TRANSCRIPTION_MODEL", "whisper-1"),
		TranscriptionTimeout: getDuration("TRANSCRIPTION_TIMEOUT", 5*time.Minute),

		NERModelURL:         getEnv("NER_MODEL_URL", "http://localhost:9001"),
		ExtractionTimeout:   getDuration("EXTRACTION_TIMEOUT", 30*time.Second),
		ExtractionRulesPath: getEnv("EXTRACTION_RULES_PATH", ""),
		TerminologyPath:     getEnv("TERMINOLOGY_PATH", ""),

		ReconcileOverlapFraction:     getFloatEnv("RECONCILE_OVERLAP_FRACTION", 0.5),
		ReconcileMinConfidence:       getFloatEnv("RECONCILE_MIN_CONFIDENCE", 0.5),
		ReconcileDisagreementPenalty: getFloatEnv("RECONCILE_DISAGREEMENT_PENALTY", 0.8),

		TriageTimeout:                getDuration("TRIAGE_TIMEOUT", 5*time.Second),
		TriageRulesPath:              getEnv("TRIAGE_RULES_PATH", ""),
		TriageHighRiskConfidence:     getFloatEnv("TRIAGE_HIGH_RISK_CONFIDENCE", 0.7),
		TriageMultiResourceThreshold: getIntEnv("TRIAGE_MULTI_RESOURCE_THRESHOLD", 2),
		TriageDegradedCeiling:        getFloatEnv("TRIAGE_DEGRADED_CEILING", 0.5),
		TriagePartialCeiling:         getFloatEnv("TRIAGE_PARTIAL_CEILING", 0.85),

		PipelineWorkers:      getIntEnv("PIPELINE_WORKERS", 4),
		PipelineQueueSize:    getIntEnv("PIPELINE_QUEUE_SIZE", 64),
		StorageRetryAttempts: getIntEnv("STORAGE_RETRY_ATTEMPTS", 3),
		StorageRetryDelay:    getDuration("STORAGE_RETRY_DELAY", 100*time.Millisecond),

		GatewayRateLimitRPS:   getIntEnv("GATEWAY_RATE_LIMIT_RPS", 20),
		GatewayRateLimitBurst: getIntEnv("GATEWAY_RATE_LIMIT_BURST", 40),
		CORSAllowedOrigin:     getEnv("CORS_ALLOWED_ORIGIN", "http://localhost:3001"),
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

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getStringSliceEnv splits a comma separated value, dropping blanks.
func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
