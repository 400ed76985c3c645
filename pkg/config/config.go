package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type EmbeddingConfig struct {
	Model     string  `yaml:"model"`
	BaseURL   string  `yaml:"base_url"`
	Dimension int     `yaml:"dimension"`
	BatchSize int     `yaml:"batch_size"`
	RateLimit float64 `yaml:"rate_limit"`
}

type GeneratorConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type LSHConfig struct {
	Enabled        bool    `yaml:"enabled"`
	NumPerm        int     `yaml:"num_perm"`
	Bands          int     `yaml:"bands"`
	Threshold      float64 `yaml:"threshold"`
	KeyPrefix      string  `yaml:"key_prefix"`
	CandidateLimit int     `yaml:"candidate_limit"`
	BatchSize      int     `yaml:"batch_size"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelayMs int     `yaml:"base_delay_ms"`
	Multiplier  float64 `yaml:"multiplier"`
}

type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Generator GeneratorConfig `yaml:"generator"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	LSH       LSHConfig       `yaml:"lsh"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Retry     RetryConfig     `yaml:"retry"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"sift.yaml",
			"sift.yml",
			filepath.Join(os.Getenv("HOME"), ".config/sift/config.yaml"),
			"/etc/sift/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 768
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 100
	}
	if config.Embedding.RateLimit == 0 {
		config.Embedding.RateLimit = 4.0
	}

	if config.Generator.Provider == "" {
		config.Generator.Provider = "mock"
	}
	if config.Generator.Model == "" {
		config.Generator.Model = "mistral"
	}
	if config.Generator.BaseURL == "" {
		config.Generator.BaseURL = config.Embedding.BaseURL
	}
	if config.Generator.Temperature == 0 {
		config.Generator.Temperature = 0.7
	}
	if config.Generator.MaxTokens == 0 {
		config.Generator.MaxTokens = 2000
	}

	if config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}

	if config.Chunking.ChunkSize == 0 {
		config.Chunking.ChunkSize = 1000
	}
	if config.Chunking.ChunkOverlap == 0 {
		config.Chunking.ChunkOverlap = 200
	}

	if config.LSH.NumPerm == 0 {
		config.LSH.NumPerm = 256
	}
	if config.LSH.Bands == 0 {
		config.LSH.Bands = 16
	}
	if config.LSH.Threshold == 0 {
		config.LSH.Threshold = 0.7
	}
	if config.LSH.KeyPrefix == "" {
		config.LSH.KeyPrefix = "sift:lsh"
	}
	if config.LSH.CandidateLimit == 0 {
		config.LSH.CandidateLimit = 50
	}
	if config.LSH.BatchSize == 0 {
		config.LSH.BatchSize = 1000
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}

	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.BaseDelayMs == 0 {
		config.Retry.BaseDelayMs = 1000
	}
	if config.Retry.Multiplier == 0 {
		config.Retry.Multiplier = 2.0
	}
}

func mergeWithEnv(config *Config) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
		config.Generator.BaseURL = baseURL
	}
}
