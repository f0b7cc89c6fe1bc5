package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	once    sync.Once
	initErr error
)

// Init initializes the configuration system
// This should be called once at application startup
func Init() error {
	once.Do(func() {
		// Set default values
		setDefaults()

		// Set up environment variable reading for overrides
		viper.SetEnvPrefix("DIGEST")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		// Load config from fixed location (cleaned for safety)
		configPath := filepath.Clean("./config/settings.yaml")
		viper.SetConfigFile(configPath)

		// Try to read the config file
		if err := viper.ReadInConfig(); err != nil {
			// If the config file doesn't exist, just use defaults and env vars
			if !os.IsNotExist(err) {
				initErr = fmt.Errorf("error reading config file %s: %w", configPath, err)
				return
			}
		}

		// Validate the configuration
		if err := validate(); err != nil {
			initErr = fmt.Errorf("invalid configuration: %w", err)
		}
	})

	return initErr
}

// GetConfig returns the current configuration as a struct
// Init() must be called before using this
func GetConfig() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// GetString returns a string config value
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a time.Duration config value
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// validate validates the configuration using Viper values
func validate() error {
	port := viper.GetInt("server.port")
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid server port: %d", port)
	}

	if viper.GetString("database.path") == "" {
		return fmt.Errorf("database.path must be set")
	}

	if viper.GetInt("audio.chunk_seconds") <= 0 {
		return fmt.Errorf("audio.chunk_seconds must be positive")
	}

	threshold := viper.GetFloat64("digest.score_threshold")
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("digest.score_threshold must be within [0,1]: %f", threshold)
	}

	if viper.GetInt("synthesis.chunk_chars") <= 0 {
		return fmt.Errorf("synthesis.chunk_chars must be positive")
	}

	// Auto-correct invalid batch size
	if viper.GetInt("pipeline.batch_size") <= 0 {
		viper.Set("pipeline.batch_size", 10)
	}

	return nil
}

// Validate validates a Config struct (for testing)
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path must be set")
	}

	if c.Audio.ChunkSeconds <= 0 {
		return fmt.Errorf("audio chunk seconds must be positive")
	}

	if c.Digest.ScoreThreshold < 0 || c.Digest.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be within [0,1]: %f", c.Digest.ScoreThreshold)
	}

	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 10
	}

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Environment defaults
	viper.SetDefault("environment", "development")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_header_bytes", 1048576)

	// Database defaults
	viper.SetDefault("database.path", "./data/digest.db")
	viper.SetDefault("database.verbose", false)

	// Storage defaults
	viper.SetDefault("storage.audio_dir", "./data/audio")
	viper.SetDefault("storage.chunk_dir", "./data/chunks")
	viper.SetDefault("storage.transcript_dir", "./data/transcripts")
	viper.SetDefault("storage.script_dir", "./data/scripts")
	viper.SetDefault("storage.digest_dir", "./data/digests")
	viper.SetDefault("storage.temp_dir", os.TempDir())

	// Feed monitor defaults
	viper.SetDefault("monitor.timeout", 30*time.Second)
	viper.SetDefault("monitor.max_consecutive_failures", 10)
	viper.SetDefault("monitor.user_agent", "DigestAPI/1.0")

	// Audio acquisition defaults
	viper.SetDefault("audio.chunk_seconds", 600)
	viper.SetDefault("audio.sample_rate", 16000)
	viper.SetDefault("audio.max_download_size", int64(500*1024*1024))
	viper.SetDefault("audio.download_timeout", 5*time.Minute)
	viper.SetDefault("audio.ffmpeg_path", "ffmpeg")
	viper.SetDefault("audio.ffprobe_path", "ffprobe")
	viper.SetDefault("audio.ffmpeg_timeout", 5*time.Minute)
	viper.SetDefault("audio.keep_audio", false)

	// ASR backend defaults
	viper.SetDefault("asr.base_url", "http://localhost:9000")
	viper.SetDefault("asr.model", "whisper-1")
	viper.SetDefault("asr.language", "en")
	viper.SetDefault("asr.timeout", 10*time.Minute)
	viper.SetDefault("asr.concurrency", 2)
	viper.SetDefault("asr.rate_limit", 2)

	// Generation backend defaults
	viper.SetDefault("generation.base_url", "https://api.openai.com/v1")
	viper.SetDefault("generation.model", "gpt-4o-mini")
	viper.SetDefault("generation.timeout", 2*time.Minute)
	viper.SetDefault("generation.rate_limit", 2)

	// Synthesis backend defaults
	viper.SetDefault("synthesis.base_url", "https://api.openai.com/v1")
	viper.SetDefault("synthesis.model", "tts-1-hd")
	viper.SetDefault("synthesis.chunk_chars", 3000)
	viper.SetDefault("synthesis.timeout", 5*time.Minute)
	viper.SetDefault("synthesis.rate_limit", 1)

	// Digest composition defaults
	viper.SetDefault("digest.score_threshold", 0.65)
	viper.SetDefault("digest.lookback_days", 2)
	viper.SetDefault("digest.max_episodes", 8)
	viper.SetDefault("digest.narrative_min_chars", 10000)
	viper.SetDefault("digest.narrative_max_chars", 15000)
	viper.SetDefault("digest.dialogue_min_chars", 15000)
	viper.SetDefault("digest.dialogue_max_chars", 20000)
	viper.SetDefault("digest.transcript_excerpts", 6000)

	// Pipeline defaults
	viper.SetDefault("pipeline.batch_size", 10)
	viper.SetDefault("pipeline.max_failures", 5)

	// Publish defaults
	viper.SetDefault("publish.dir", "./public")
	viper.SetDefault("publish.base_url", "http://localhost:8080")
	viper.SetDefault("publish.title", "Daily Topic Digests")
	viper.SetDefault("publish.link", "http://localhost:8080")
}
