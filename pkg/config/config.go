package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	GoogleApiKey   string
	DatabaseURL    string
	ReasoningModel string
	FastModel      string
	Port           string
	ChunkSize      int
	ChunkOverlap   int
	EmbeddingModel string
	CollectionName string

	// Deep research orchestrator settings.
	FirecrawlApiKey           string
	BypassJSONValidation      bool
	DeepResearchMaxDepth      int
	DeepResearchTimeLimit     time.Duration
	DeepResearchHardDeadline  time.Duration
	DeepResearchMaxFailedAttempts int
}

func Load() *Config {

	if os.Getenv("GOOGLE_API_KEY") != "" {
		return &Config{
			GoogleApiKey:   getEnv("GOOGLE_API_KEY", ""),
			DatabaseURL:    getEnv("DATABASE_URL", ""),
			ReasoningModel: getEnv("REASONING_MODEL", "gemini-3-pro-preview"),
			FastModel:      getEnv("FAST_MODEL", "gemini-3-flash-preview"),
			Port:           getEnv("PORT", "3000"),
			ChunkSize:      getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap:   getEnvAsInt("CHUNK_OVERLAP", 200),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
			CollectionName: getEnv("COLLECTION_NAME", "thesis_db"),

			FirecrawlApiKey:               getEnv("FIRECRAWL_API_KEY", ""),
			BypassJSONValidation:          getEnvAsBool("BYPASS_JSON_VALIDATION", false),
			DeepResearchMaxDepth:          getEnvAsInt("DEEP_RESEARCH_MAX_DEPTH", 7),
			DeepResearchTimeLimit:         getEnvAsDuration("DEEP_RESEARCH_TIME_LIMIT", 4*time.Minute+30*time.Second),
			DeepResearchHardDeadline:      getEnvAsDuration("DEEP_RESEARCH_HARD_DEADLINE", 5*time.Minute),
			DeepResearchMaxFailedAttempts: getEnvAsInt("DEEP_RESEARCH_MAX_FAILED_ATTEMPTS", 3),
		}
	}

	return &Config{
		GoogleApiKey:   "",
		DatabaseURL:    "",
		ReasoningModel: "",
		FastModel:      "",
		Port:           "",
		ChunkSize:      1000,
		ChunkOverlap:   200,
		EmbeddingModel: "",
		CollectionName: "",

		FirecrawlApiKey:               "",
		BypassJSONValidation:          false,
		DeepResearchMaxDepth:          7,
		DeepResearchTimeLimit:         4*time.Minute + 30*time.Second,
		DeepResearchHardDeadline:      5 * time.Minute,
		DeepResearchMaxFailedAttempts: 3,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
