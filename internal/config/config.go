package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the environment-derived configuration surface.
type Config struct {
	AppDataDir string

	FFmpegBin  string
	FFprobeBin string

	OpenAIAPIKey            string
	OpenAIRequestTimeoutSec int

	HuggingFaceToken string
}

// Load loads configuration from environment variables and a .env file.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	return &Config{
		AppDataDir:              getEnv("APP_DATA_DIR", defaultAppDataDir()),
		FFmpegBin:               getEnv("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:              getEnv("FFPROBE_BIN", "ffprobe"),
		OpenAIAPIKey:            getEnv("OPENAI_API_KEY", ""),
		OpenAIRequestTimeoutSec: getEnvAsInt("OPENAI_REQUEST_TIMEOUT_SEC", 600),
		HuggingFaceToken:        getEnv("HUGGINGFACE_TOKEN", ""),
	}
}

func defaultAppDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".transkriptor"
	}
	return filepath.Join(home, ".transkriptor")
}

// DBPath is the path to the relational store, jobs.db, under AppDataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.AppDataDir, "jobs.db")
}

// JobsDir is the root of all per-job directories.
func (c *Config) JobsDir() string {
	return filepath.Join(c.AppDataDir, "jobs")
}

// JobDir is the per-job directory for a given job id.
func (c *Config) JobDir(jobID string) string {
	return filepath.Join(c.JobsDir(), jobID)
}

// ChunksDir is where rendered chunk WAV files for a job live.
func (c *Config) ChunksDir(jobID string) string {
	return filepath.Join(c.JobDir(jobID), "chunks")
}

// CheckpointsDir is where per-chunk and final result JSON checkpoints live.
func (c *Config) CheckpointsDir(jobID string) string {
	return filepath.Join(c.JobDir(jobID), "checkpoints")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
