package config

import (
	"os"
)

type RagConfig struct {
	GoogleApiKey string
	DatabaseURL  string
	GoogleModel  string
	Port         string
	ChunkSize    int
	ChunkOverlap int
}

func LoadRagConfig() *RagConfig {

	if os.Getenv("GOOGLE_API_KEY") != "" {
		return &RagConfig{
			GoogleApiKey: getEnv("GOOGLE_API_KEY", ""),
			DatabaseURL:  getEnv("DATABASE_URL", ""),
			GoogleModel:  getEnv("GOOGLE_MODEL", "gemini-embedding-001"),
			Port:         getEnv("PORT", "3000"),
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 200),
		}
	}

	return &RagConfig{
		GoogleApiKey: "",
		DatabaseURL:  "",
		GoogleModel:  "",
		Port:         "",
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}
