package digests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/episodes"
	"github.com/podwave/digest-api/internal/services/runs"
	"github.com/podwave/digest-api/internal/services/topics"
	pipeerrors "github.com/podwave/digest-api/pkg/errors"
	"github.com/podwave/digest-api/pkg/generation"
)

// ErrIllegalReset indicates an operator reset to a status the state machine
// does not allow from the episode's current status.
var ErrIllegalReset = errors.New("illegal episode reset")

// Config holds digest composition settings
type Config struct {
	ScoreThreshold    float64
	LookbackDays      int
	MaxEpisodes       int
	NarrativeMinChars int
	NarrativeMaxChars int
	DialogueMinChars  int
	DialogueMaxChars  int
	ExcerptChars      int // transcript chars per episode in prompts
	Temperature       float64
	ScriptDir         string
}

// Service composes per-topic digest scripts from scored episodes
type Service struct {
	digests   DigestRepository
	episodes  episodes.EpisodeRepository
	topics    topics.TopicRepository
	completer generation.Completer
	config    Config
}

// NewService creates a new digest composition service
func NewService(digestRepo DigestRepository, episodeRepo episodes.EpisodeRepository, topicRepo topics.TopicRepository, completer generation.Completer, config Config) *Service {
	return &Service{
		digests:   digestRepo,
		episodes:  episodeRepo,
		topics:    topicRepo,
		completer: completer,
		config:    config,
	}
}

// Run composes a digest for every active topic for the given date. The phase
// result counts topics: claimed = topics with work to do, succeeded = digests
// written.
func (s *Service) Run(ctx context.Context, tracker *runs.Tracker, date string, force bool) (runs.PhaseResult, error) {
	var result runs.PhaseResult

	if _, err := time.Parse("2006-01-02", date); err != nil {
		return result, pipeerrors.Config(pipeerrors.CodeMissingConfig,
			fmt.Sprintf("invalid digest date %q", date), err)
	}

	active, err := s.topics.ListActiveTopics(ctx)
	if err != nil {
		return result, err
	}

	for i := range active {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		topic := &active[i]

		digest, composed, err := s.Compose(ctx, tracker, topic, date, force)
		if err != nil {
			if pipeerrors.IsConfig(err) {
				return result, err
			}
			result.Claimed++
			result.Failed++
			tracker.Logf(ctx, "warn", "topic %s: composition failed: %v", topic.Slug, err)
			continue
		}
		if !composed {
			continue
		}
		result.Claimed++
		result.Succeeded++
		tracker.Logf(ctx, "info", "topic %s: digest %s v%d with %d episodes",
			topic.Slug, date, digest.Version, digest.EpisodeCount)
	}

	return result, nil
}

// Compose builds one topic's digest for one date. Without force an existing
// digest is left alone; with force its script is regenerated from the same
// episodes under a bumped version. Returns composed=false when there was
// nothing to do.
func (s *Service) Compose(ctx context.Context, tracker *runs.Tracker, topic *models.Topic, date string, force bool) (*models.Digest, bool, error) {
	existing, err := s.digests.GetDigest(ctx, topic.Slug, date)
	switch {
	case err == nil && !force:
		tracker.Logf(ctx, "info", "topic %s: digest for %s already exists, skipping", topic.Slug, date)
		return nil, false, nil
	case err == nil:
		digest, err := s.recompose(ctx, tracker, topic, existing)
		if err != nil {
			return nil, false, err
		}
		return digest, true, nil
	case !errors.Is(err, ErrDigestNotFound):
		return nil, false, err
	}

	dateStart, _ := time.Parse("2006-01-02", date)
	since := dateStart.AddDate(0, 0, -s.config.LookbackDays)
	until := dateStart.AddDate(0, 0, 1)

	candidates, err := s.digests.ListCandidateEpisodes(ctx, topic.Slug, since, until, s.config.ScoreThreshold, s.config.MaxEpisodes)
	if err != nil {
		return nil, false, err
	}
	if len(candidates) == 0 {
		// No row at all: an empty digest is indistinguishable from a failed
		// one, so nothing is recorded.
		tracker.Logf(ctx, "info", "topic %s: no eligible episodes for %s", topic.Slug, date)
		return nil, false, nil
	}

	script, title, summary, err := s.generate(ctx, topic, candidates)
	if err != nil {
		return nil, false, err
	}

	instructionVersion, err := s.topics.CurrentInstructionVersion(ctx, topic.ID)
	if err != nil {
		return nil, false, err
	}

	scriptPath, err := s.writeScript(topic.Slug, date, 1, script)
	if err != nil {
		return nil, false, err
	}

	links := make([]models.DigestEpisodeLink, len(candidates))
	average := 0.0
	for i, episode := range candidates {
		score := episode.Scores[topic.Slug]
		links[i] = models.DigestEpisodeLink{EpisodeID: episode.ID, Score: score, Position: i}
		average += score
	}
	average /= float64(len(candidates))

	digest := &models.Digest{
		TopicSlug:          topic.Slug,
		DigestDate:         date,
		Version:            1,
		ScriptPath:         scriptPath,
		ScriptWordCount:    len(strings.Fields(script)),
		GeneratedTitle:     title,
		GeneratedSummary:   summary,
		InstructionVersion: instructionVersion,
		EpisodeCount:       len(candidates),
		AverageScore:       average,
	}

	if err := s.digests.CreateDigestWithLinks(ctx, digest, links); err != nil {
		if errors.Is(err, ErrDuplicateDate) {
			// Another invocation composed this digest first
			tracker.Logf(ctx, "info", "topic %s: digest for %s composed concurrently, skipping", topic.Slug, date)
			os.Remove(scriptPath)
			return nil, false, nil
		}
		return nil, false, err
	}
	return digest, true, nil
}

// recompose regenerates an existing digest's script from its already-linked
// episodes under the current topic instructions. The version bump keeps the
// regeneration auditable; the stale audio is cleared for re-synthesis.
func (s *Service) recompose(ctx context.Context, tracker *runs.Tracker, topic *models.Topic, existing *models.Digest) (*models.Digest, error) {
	linked := make([]models.Episode, 0, len(existing.Links))
	for _, link := range existing.Links {
		episode, err := s.episodes.GetEpisodeByID(ctx, link.EpisodeID)
		if err != nil {
			return nil, err
		}
		linked = append(linked, *episode)
	}
	if len(linked) == 0 {
		return nil, pipeerrors.Data(pipeerrors.CodeMalformedEntry,
			fmt.Sprintf("digest %d has no linked episodes to regenerate from", existing.ID), nil)
	}

	script, title, summary, err := s.generate(ctx, topic, linked)
	if err != nil {
		return nil, err
	}

	instructionVersion, err := s.topics.CurrentInstructionVersion(ctx, topic.ID)
	if err != nil {
		return nil, err
	}

	version := existing.Version + 1
	scriptPath, err := s.writeScript(topic.Slug, existing.DigestDate, version, script)
	if err != nil {
		return nil, err
	}

	if err := s.digests.UpdateFields(ctx, existing.ID, map[string]any{
		"version":             version,
		"script_path":         scriptPath,
		"script_word_count":   len(strings.Fields(script)),
		"generated_title":     title,
		"generated_summary":   summary,
		"instruction_version": instructionVersion,
		"audio_path":          "",
		"duration_seconds":    0,
		"external_url":        "",
		"published_at":        nil,
	}); err != nil {
		return nil, err
	}

	tracker.Logf(ctx, "info", "topic %s: regenerated digest %s as v%d", topic.Slug, existing.DigestDate, version)

	updated := *existing
	updated.Version = version
	updated.ScriptPath = scriptPath
	updated.GeneratedTitle = title
	updated.GeneratedSummary = summary
	return &updated, nil
}

// generate produces the digest script plus its title and summary
func (s *Service) generate(ctx context.Context, topic *models.Topic, selected []models.Episode) (script, title, summary string, err error) {
	material, err := s.buildMaterial(topic, selected)
	if err != nil {
		return "", "", "", err
	}

	script, err = s.completer.Complete(ctx, s.scriptRequest(topic, material))
	if err != nil {
		return "", "", "", err
	}
	if strings.TrimSpace(script) == "" {
		return "", "", "", pipeerrors.Data(pipeerrors.CodeBackendResponse, "backend returned an empty script", nil)
	}

	title, summary, err = s.generateMetadata(ctx, topic, script)
	if err != nil {
		return "", "", "", err
	}
	return script, title, summary, nil
}

// buildMaterial renders the source episodes into prompt material, excerpting
// each transcript.
func (s *Service) buildMaterial(topic *models.Topic, selected []models.Episode) (string, error) {
	var builder strings.Builder
	for i, episode := range selected {
		transcript, err := os.ReadFile(episode.TranscriptPath)
		if err != nil {
			return "", pipeerrors.Data(pipeerrors.CodeEmptyTranscript,
				fmt.Sprintf("transcript artifact missing for episode %d", episode.ID), err)
		}
		excerpt := string(transcript)
		if s.config.ExcerptChars > 0 {
			excerpt = truncate(excerpt, s.config.ExcerptChars)
		}
		fmt.Fprintf(&builder, "Source %d: %s (relevance %.2f)\n%s\n\n",
			i+1, episode.Title, episode.Scores[topic.Slug], excerpt)
	}
	return builder.String(), nil
}

// scriptRequest builds the completion request for the topic's script mode.
// This is the single place mode dispatch happens; everything downstream
// treats the script as opaque text.
func (s *Service) scriptRequest(topic *models.Topic, material string) generation.Request {
	var system string
	switch topic.ScriptMode {
	case models.ScriptModeDialogue:
		system = fmt.Sprintf(`You write two-host podcast dialogue scripts. `+
			`Alternate turns labelled "HOST A:" and "HOST B:", one turn per paragraph, `+
			`separated by blank lines. Never break a speaker's turn across paragraphs. `+
			`Write between %d and %d characters. Plain text only.`,
			s.config.DialogueMinChars, s.config.DialogueMaxChars)
	default:
		system = fmt.Sprintf(`You write single-narrator podcast scripts. `+
			`Use short paragraphs separated by blank lines. `+
			`Write between %d and %d characters. Plain text only, no headings or stage directions.`,
			s.config.NarrativeMinChars, s.config.NarrativeMaxChars)
	}

	user := fmt.Sprintf("Topic: %s\nEditorial instructions: %s\n\nToday's source material:\n\n%s",
		topic.Name, topic.Instructions, material)

	return generation.Request{
		System:      system,
		User:        user,
		Temperature: s.config.Temperature,
	}
}

// generateMetadata asks the backend for a title and summary of the script
func (s *Service) generateMetadata(ctx context.Context, topic *models.Topic, script string) (string, string, error) {
	content, err := s.completer.Complete(ctx, generation.Request{
		System: `You title podcast episodes. Respond with a JSON object: ` +
			`{"title": "...", "summary": "..."}. The summary is two sentences.`,
		User:       fmt.Sprintf("Topic: %s\n\nScript:\n%s", topic.Name, truncate(script, 4000)),
		JSONOutput: true,
	})
	if err != nil {
		return "", "", err
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", "", pipeerrors.Data(pipeerrors.CodeBackendResponse, "metadata response contains no JSON object", nil)
	}

	var parsed struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return "", "", pipeerrors.Data(pipeerrors.CodeBackendResponse, "decoding metadata response", err)
	}
	if parsed.Title == "" {
		return "", "", pipeerrors.Data(pipeerrors.CodeBackendResponse, "metadata response missing title", nil)
	}
	return parsed.Title, parsed.Summary, nil
}

// writeScript persists the script under a versioned name so regenerated
// digests never overwrite prior artifacts.
func (s *Service) writeScript(slug, date string, version int, script string) (string, error) {
	if err := os.MkdirAll(s.config.ScriptDir, 0755); err != nil {
		return "", fmt.Errorf("creating script directory: %w", err)
	}
	path := filepath.Join(s.config.ScriptDir, fmt.Sprintf("%s_%s_v%d.txt", slug, date, version))
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		return "", fmt.Errorf("writing script: %w", err)
	}
	return path, nil
}

// ResetEpisode is the operator escape hatch: move a terminal episode back to
// pending (full re-run) or scored (re-digest). Resetting a digested episode
// also removes its provenance links and recomputes the affected digests.
func (s *Service) ResetEpisode(ctx context.Context, episodeID uint, target models.EpisodeStatus) error {
	if target != models.StatusPending && target != models.StatusScored {
		return fmt.Errorf("%w: target %s", ErrIllegalReset, target)
	}

	episode, err := s.episodes.GetEpisodeByID(ctx, episodeID)
	if err != nil {
		return err
	}
	if !models.CanTransition(episode.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalReset, episode.Status, target)
	}
	if target == models.StatusScored && len(episode.Scores) == 0 {
		return fmt.Errorf("%w: episode %d has no scores to return to", ErrIllegalReset, episodeID)
	}

	if episode.Status == models.StatusDigested {
		affected, err := s.digests.UnlinkEpisode(ctx, episodeID)
		if err != nil {
			return err
		}
		if len(affected) > 0 {
			log.Printf("[DEBUG] Episode %d unlinked from %d digest(s)", episodeID, len(affected))
		}
	}

	fields := map[string]any{
		"failure_count":   0,
		"failure_reason":  "",
		"last_failure_at": nil,
		"digested_at":     nil,
	}
	if target == models.StatusPending {
		fields["audio_path"] = ""
		fields["chunk_count"] = 0
		fields["duration_seconds"] = 0
		fields["transcript_path"] = ""
		fields["word_count"] = 0
		fields["scores"] = nil
		fields["downloaded_at"] = nil
		fields["transcribed_at"] = nil
		fields["scored_at"] = nil
	}

	advanced, err := s.episodes.Advance(ctx, episodeID, episode.Status, target, fields)
	if err != nil {
		return err
	}
	if !advanced {
		return fmt.Errorf("episode %d changed status during reset", episodeID)
	}
	return nil
}

// truncate clips s to at most max bytes, backing up to a rune boundary so
// prompt excerpts stay valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
