package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the StudyHall server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Services ServicesConfig
	Pipeline PipelineConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// ServicesConfig points at the three remote processing services. The
// structuring service also hosts the interactive query endpoint.
type ServicesConfig struct {
	ExtractionURL    string
	TranscriptionURL string
	StructuringURL   string
	StageTimeout     time.Duration
	ChatTimeout      time.Duration
}

type PipelineConfig struct {
	Workers int
}

type StorageConfig struct {
	ArtifactDir string
	MaxUploadMB int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("STUDYHALL_PORT", 8080),
			Env:  envString("STUDYHALL_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Services: ServicesConfig{
			ExtractionURL:    strings.TrimRight(os.Getenv("EXTRACTION_SERVICE_URL"), "/"),
			TranscriptionURL: strings.TrimRight(os.Getenv("TRANSCRIPTION_SERVICE_URL"), "/"),
			StructuringURL:   strings.TrimRight(os.Getenv("STRUCTURING_SERVICE_URL"), "/"),
			StageTimeout:     envDurationSecs("SERVICE_TIMEOUT_SECS", 300*time.Second),
			ChatTimeout:      envDurationSecs("CHAT_TIMEOUT_SECS", 60*time.Second),
		},
		Pipeline: PipelineConfig{
			Workers: envInt("PIPELINE_WORKERS", 4),
		},
		Storage: StorageConfig{
			ArtifactDir: envString("ARTIFACT_DIR", "storage"),
			MaxUploadMB: envInt("MAX_UPLOAD_MB", 500),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	services := []struct {
		name string
		url  string
	}{
		{"EXTRACTION_SERVICE_URL", c.Services.ExtractionURL},
		{"TRANSCRIPTION_SERVICE_URL", c.Services.TranscriptionURL},
		{"STRUCTURING_SERVICE_URL", c.Services.StructuringURL},
	}
	for _, svc := range services {
		if svc.url == "" {
			return fmt.Errorf("%s is required", svc.name)
		}
		if !strings.HasPrefix(svc.url, "http://") && !strings.HasPrefix(svc.url, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", svc.name, svc.url)
		}
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1, got %d", c.Pipeline.Workers)
	}

	if c.Storage.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB must be at least 1, got %d", c.Storage.MaxUploadMB)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
