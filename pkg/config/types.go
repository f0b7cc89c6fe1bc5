package config

import "time"

// Config represents the application configuration structure
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Monitor     MonitorConfig    `mapstructure:"monitor"`
	Audio       AudioConfig      `mapstructure:"audio"`
	ASR         ASRConfig        `mapstructure:"asr"`
	Generation  GenerationConfig `mapstructure:"generation"`
	Synthesis   SynthesisConfig  `mapstructure:"synthesis"`
	Digest      DigestConfig     `mapstructure:"digest"`
	Pipeline    PipelineConfig   `mapstructure:"pipeline"`
	Publish     PublishConfig    `mapstructure:"publish"`
}

// ServerConfig contains HTTP server settings for the serve command
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path    string `mapstructure:"path"`
	Verbose bool   `mapstructure:"verbose"`
}

// StorageConfig contains local artifact storage settings
type StorageConfig struct {
	AudioDir      string `mapstructure:"audio_dir"`
	ChunkDir      string `mapstructure:"chunk_dir"`
	TranscriptDir string `mapstructure:"transcript_dir"`
	ScriptDir     string `mapstructure:"script_dir"`
	DigestDir     string `mapstructure:"digest_dir"`
	TempDir       string `mapstructure:"temp_dir"`
}

// MonitorConfig contains feed discovery settings
type MonitorConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Feeds with this many consecutive discovery failures are deactivated.
	// Zero disables auto-deactivation.
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
	UserAgent              string `mapstructure:"user_agent"`
}

// AudioConfig contains audio acquisition settings
type AudioConfig struct {
	ChunkSeconds    int           `mapstructure:"chunk_seconds"`
	SampleRate      int           `mapstructure:"sample_rate"`
	MaxDownloadSize int64         `mapstructure:"max_download_size"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	FFmpegPath      string        `mapstructure:"ffmpeg_path"`
	FFprobePath     string        `mapstructure:"ffprobe_path"`
	FFmpegTimeout   time.Duration `mapstructure:"ffmpeg_timeout"`
	KeepAudio       bool          `mapstructure:"keep_audio"`
}

// ASRConfig contains speech recognition backend settings
type ASRConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Language    string        `mapstructure:"language"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
	RateLimit   int           `mapstructure:"rate_limit"` // requests per second
}

// GenerationConfig contains the scoring/script generation backend settings
type GenerationConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

// SynthesisConfig contains speech synthesis backend settings. Chunks are
// rendered sequentially for voice continuity, so there is no concurrency
// knob; the rate limit still bounds request frequency.
type SynthesisConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	ChunkChars int           `mapstructure:"chunk_chars"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
}

// DigestConfig contains digest composition settings
type DigestConfig struct {
	ScoreThreshold     float64 `mapstructure:"score_threshold"`
	LookbackDays       int     `mapstructure:"lookback_days"`
	MaxEpisodes        int     `mapstructure:"max_episodes"`
	NarrativeMinChars  int     `mapstructure:"narrative_min_chars"`
	NarrativeMaxChars  int     `mapstructure:"narrative_max_chars"`
	DialogueMinChars   int     `mapstructure:"dialogue_min_chars"`
	DialogueMaxChars   int     `mapstructure:"dialogue_max_chars"`
	TranscriptExcerpts int     `mapstructure:"transcript_excerpts"` // chars of transcript per episode in prompts
}

// PipelineConfig contains phase job settings
type PipelineConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	MaxFailures int `mapstructure:"max_failures"` // retry cap before only operator reset revives an episode
}

// PublishConfig contains publishing settings
type PublishConfig struct {
	Dir     string `mapstructure:"dir"`
	BaseURL string `mapstructure:"base_url"`
	Title   string `mapstructure:"title"`
	Link    string `mapstructure:"link"`
}
