package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/podwave/digest-api/internal/database"
	"github.com/podwave/digest-api/internal/services/acquisition"
	"github.com/podwave/digest-api/internal/services/digests"
	"github.com/podwave/digest-api/internal/services/episodes"
	"github.com/podwave/digest-api/internal/services/feeds"
	"github.com/podwave/digest-api/internal/services/publishing"
	"github.com/podwave/digest-api/internal/services/runs"
	"github.com/podwave/digest-api/internal/services/scoring"
	"github.com/podwave/digest-api/internal/services/synthesis"
	"github.com/podwave/digest-api/internal/services/topics"
	"github.com/podwave/digest-api/internal/services/transcription"
	"github.com/podwave/digest-api/pkg/config"
	"github.com/podwave/digest-api/pkg/download"
	"github.com/podwave/digest-api/pkg/ffmpeg"
	"github.com/podwave/digest-api/pkg/generation"
)

// PhaseFunc runs one pass of a pipeline phase
type PhaseFunc func(ctx context.Context, tracker *runs.Tracker) (runs.PhaseResult, error)

// Pipeline wires the phase services over one database handle. Commands and
// the HTTP server both build their service graph through it.
type Pipeline struct {
	DB *database.DB

	Episodes episodes.EpisodeRepository
	Topics   topics.TopicRepository
	Digests  digests.DigestRepository
	Runs     *runs.Service

	Discovery     *feeds.Service
	Acquisition   *acquisition.Service
	Transcription *transcription.Service
	Scoring       *scoring.Service
	Composition   *digests.Service
	Synthesis     *synthesis.Service
	Publishing    *publishing.Service

	FFmpeg *ffmpeg.FFmpeg
}

// New constructs the full service graph from configuration
func New(cfg *config.Config, db *database.DB) *Pipeline {
	episodeRepo := episodes.NewRepository(db.DB)
	feedRepo := feeds.NewRepository(db.DB)
	topicRepo := topics.NewRepository(db.DB)
	digestRepo := digests.NewRepository(db.DB)
	runService := runs.NewService(runs.NewRepository(db.DB))

	ff := ffmpeg.New(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath, cfg.Audio.FFmpegTimeout)
	downloader := download.NewDownloader(download.Options{
		MaxSize:       cfg.Audio.MaxDownloadSize,
		Timeout:       cfg.Audio.DownloadTimeout,
		UserAgent:     cfg.Monitor.UserAgent,
		ValidateAudio: true,
	})
	completer := generation.NewClient(generation.Config{
		BaseURL:   cfg.Generation.BaseURL,
		APIKey:    cfg.Generation.APIKey,
		Model:     cfg.Generation.Model,
		Timeout:   cfg.Generation.Timeout,
		RateLimit: cfg.Generation.RateLimit,
	})
	recognizer := transcription.NewClient(transcription.ClientConfig{
		BaseURL:  cfg.ASR.BaseURL,
		APIKey:   cfg.ASR.APIKey,
		Model:    cfg.ASR.Model,
		Language: cfg.ASR.Language,
		Timeout:  cfg.ASR.Timeout,
	})
	speaker := synthesis.NewClient(synthesis.ClientConfig{
		BaseURL:   cfg.Synthesis.BaseURL,
		APIKey:    cfg.Synthesis.APIKey,
		Model:     cfg.Synthesis.Model,
		Timeout:   cfg.Synthesis.Timeout,
		RateLimit: cfg.Synthesis.RateLimit,
	})
	store := publishing.NewStore(cfg.Publish.Dir, cfg.Publish.BaseURL)
	generator := publishing.NewGenerator(publishing.ChannelInfo{
		Title:       cfg.Publish.Title,
		Link:        cfg.Publish.Link,
		Description: "Automated per-topic podcast digests.",
		BaseURL:     cfg.Publish.BaseURL,
	})

	return &Pipeline{
		DB:       db,
		Episodes: episodeRepo,
		Topics:   topicRepo,
		Digests:  digestRepo,
		Runs:     runService,
		FFmpeg:   ff,

		Discovery: feeds.NewService(feedRepo, episodeRepo, feeds.Config{
			Timeout:                cfg.Monitor.Timeout,
			UserAgent:              cfg.Monitor.UserAgent,
			MaxConsecutiveFailures: cfg.Monitor.MaxConsecutiveFailures,
		}),
		Acquisition: acquisition.NewService(episodeRepo, downloader, ff, acquisition.Config{
			AudioDir:     cfg.Storage.AudioDir,
			ChunkDir:     cfg.Storage.ChunkDir,
			ChunkSeconds: cfg.Audio.ChunkSeconds,
			SampleRate:   cfg.Audio.SampleRate,
			KeepAudio:    cfg.Audio.KeepAudio,
			BatchSize:    cfg.Pipeline.BatchSize,
			MaxFailures:  cfg.Pipeline.MaxFailures,
		}),
		Transcription: transcription.NewService(episodeRepo, recognizer, transcription.Config{
			TranscriptDir: cfg.Storage.TranscriptDir,
			ChunkDir:      cfg.Storage.ChunkDir,
			ChunkSeconds:  cfg.Audio.ChunkSeconds,
			Concurrency:   cfg.ASR.Concurrency,
			RateLimit:     cfg.ASR.RateLimit,
			BatchSize:     cfg.Pipeline.BatchSize,
			MaxFailures:   cfg.Pipeline.MaxFailures,
			KeepAudio:     cfg.Audio.KeepAudio,
		}),
		Scoring: scoring.NewService(episodeRepo, topicRepo, completer, scoring.Config{
			ScoreThreshold: cfg.Digest.ScoreThreshold,
			ExcerptChars:   cfg.Digest.TranscriptExcerpts,
			BatchSize:      cfg.Pipeline.BatchSize,
			MaxFailures:    cfg.Pipeline.MaxFailures,
		}),
		Composition: digests.NewService(digestRepo, episodeRepo, topicRepo, completer, digests.Config{
			ScoreThreshold:    cfg.Digest.ScoreThreshold,
			LookbackDays:      cfg.Digest.LookbackDays,
			MaxEpisodes:       cfg.Digest.MaxEpisodes,
			NarrativeMinChars: cfg.Digest.NarrativeMinChars,
			NarrativeMaxChars: cfg.Digest.NarrativeMaxChars,
			DialogueMinChars:  cfg.Digest.DialogueMinChars,
			DialogueMaxChars:  cfg.Digest.DialogueMaxChars,
			ExcerptChars:      cfg.Digest.TranscriptExcerpts,
			ScriptDir:         cfg.Storage.ScriptDir,
		}),
		Synthesis: synthesis.NewService(digestRepo, topicRepo, speaker, ff, synthesis.Config{
			ChunkChars: cfg.Synthesis.ChunkChars,
			DigestDir:  cfg.Storage.DigestDir,
			TempDir:    cfg.Storage.TempDir,
			BatchSize:  cfg.Pipeline.BatchSize,
		}),
		Publishing: publishing.NewService(digestRepo, episodeRepo, topicRepo, store, generator, publishing.Config{
			BatchSize: cfg.Pipeline.BatchSize,
		}),
	}
}

// Phase returns the run function for a named phase. Compose runs for today's
// date without forcing; the compose command exposes the date and force flags
// directly.
func (p *Pipeline) Phase(name string) (PhaseFunc, error) {
	switch name {
	case "discover":
		return p.Discovery.Run, nil
	case "fetch":
		return p.Acquisition.Run, nil
	case "transcribe":
		return p.Transcription.Run, nil
	case "score":
		return p.Scoring.Run, nil
	case "compose":
		return func(ctx context.Context, tracker *runs.Tracker) (runs.PhaseResult, error) {
			return p.Composition.Run(ctx, tracker, time.Now().UTC().Format("2006-01-02"), false)
		}, nil
	case "synthesize":
		return p.Synthesis.Run, nil
	case "publish":
		return p.Publishing.Run, nil
	}
	return nil, fmt.Errorf("unknown phase: %s", name)
}

// PhaseNames lists the triggerable phases in pipeline order
func PhaseNames() []string {
	return []string{"discover", "fetch", "transcribe", "score", "compose", "synthesize", "publish"}
}
