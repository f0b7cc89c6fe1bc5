package feeds

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/episodes"
	"github.com/podwave/digest-api/internal/services/runs"
)

// Config holds discovery settings
type Config struct {
	Timeout                time.Duration
	UserAgent              string
	MaxConsecutiveFailures int // 0 disables auto-deactivation
}

// Service discovers new episodes from monitored RSS feeds
type Service struct {
	feeds    FeedRepository
	episodes episodes.EpisodeRepository
	parser   *gofeed.Parser
	config   Config
}

// NewService creates a new feed discovery service
func NewService(feeds FeedRepository, episodeRepo episodes.EpisodeRepository, config Config) *Service {
	parser := gofeed.NewParser()
	parser.UserAgent = cmp.Or(config.UserAgent, "DigestAPI/1.0")
	parser.Client = &http.Client{Timeout: cmp.Or(config.Timeout, 30*time.Second)}

	return &Service{
		feeds:    feeds,
		episodes: episodeRepo,
		parser:   parser,
		config:   config,
	}
}

// Register adds a feed URL to the monitored set. Registering an existing
// URL returns the existing feed unchanged.
func (s *Service) Register(ctx context.Context, url, title string) (*models.Feed, error) {
	if existing, err := s.feeds.GetFeedByURL(ctx, url); err == nil {
		return existing, nil
	}

	feed := &models.Feed{FeedURL: url, Title: title, Active: true}
	if err := s.feeds.CreateFeed(ctx, feed); err != nil {
		return nil, err
	}
	return feed, nil
}

// Run executes one discovery pass over every active feed. The phase result
// counts feeds: claimed = scanned, succeeded = parsed cleanly, failed =
// fetch/parse errors.
func (s *Service) Run(ctx context.Context, tracker *runs.Tracker) (runs.PhaseResult, error) {
	active, err := s.feeds.ListActiveFeeds(ctx)
	if err != nil {
		return runs.PhaseResult{}, err
	}

	result := runs.PhaseResult{Claimed: len(active)}
	for i := range active {
		feed := &active[i]
		if err := ctx.Err(); err != nil {
			// Cooperative cancellation: already-checked feeds keep their
			// updates, the rest are untouched.
			return result, err
		}

		created, err := s.discoverFeed(ctx, tracker, feed)
		if err != nil {
			result.Failed++
			tracker.Logf(ctx, "warn", "feed %d (%s): discovery failed: %v", feed.ID, feed.FeedURL, err)

			failures, recordErr := s.feeds.RecordFailure(ctx, feed.ID)
			if recordErr != nil {
				tracker.Logf(ctx, "error", "feed %d: recording failure: %v", feed.ID, recordErr)
				continue
			}
			if s.config.MaxConsecutiveFailures > 0 && failures >= s.config.MaxConsecutiveFailures {
				tracker.Logf(ctx, "warn", "feed %d: deactivating after %d consecutive failures", feed.ID, failures)
				if err := s.feeds.Deactivate(ctx, feed.ID); err != nil {
					tracker.Logf(ctx, "error", "feed %d: deactivating: %v", feed.ID, err)
				}
			}
			continue
		}

		result.Succeeded++
		if created > 0 {
			tracker.Logf(ctx, "info", "feed %d (%s): %d new episodes", feed.ID, feed.FeedURL, created)
		}
	}

	return result, nil
}

// discoverFeed fetches and parses one feed, creating pending episodes for
// unseen GUIDs. Returns the number of episodes created.
func (s *Service) discoverFeed(ctx context.Context, tracker *runs.Tracker, feed *models.Feed) (int, error) {
	parsed, err := s.parser.ParseURLWithContext(feed.FeedURL, ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	var newest *time.Time
	for _, item := range parsed.Items {
		episode, ok := s.normalizeItem(feed, item)
		if !ok {
			tracker.Logf(ctx, "warn", "feed %d: skipping malformed entry %q", feed.ID, item.Title)
			continue
		}

		// GUID uniqueness is the idempotency key: re-discovering the same
		// GUID must not create a duplicate or reset progress.
		exists, err := s.episodes.ExistsByGUID(ctx, episode.EpisodeGUID)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		if err := s.episodes.CreateEpisode(ctx, episode); err != nil {
			if errors.Is(err, episodes.ErrDuplicateGUID) {
				// Lost the insert race with an overlapping discovery pass;
				// the episode exists, which is all discovery guarantees.
				continue
			}
			return created, err
		}
		created++
		if newest == nil || episode.PublishedAt.After(*newest) {
			published := episode.PublishedAt
			newest = &published
		}
	}

	if feed.Title == "" && parsed.Title != "" {
		feed.Title = parsed.Title
	}
	if err := s.feeds.RecordSuccess(ctx, feed.ID, created, newest); err != nil {
		return created, err
	}
	return created, nil
}

// normalizeItem converts a parsed feed item into a pending episode. Entries
// without a GUID or audio enclosure are malformed; skip with a warning.
func (s *Service) normalizeItem(feed *models.Feed, item *gofeed.Item) (*models.Episode, bool) {
	guid := cmp.Or(item.GUID, item.Link)
	if guid == "" || item.Title == "" {
		return nil, false
	}

	var audioURL string
	for _, enclosure := range item.Enclosures {
		if enclosure != nil && enclosure.URL != "" {
			audioURL = enclosure.URL
			break
		}
	}
	if audioURL == "" {
		return nil, false
	}

	published := time.Now().UTC()
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	}

	return &models.Episode{
		FeedID:      feed.ID,
		EpisodeGUID: guid,
		Title:       item.Title,
		PublishedAt: published,
		AudioURL:    audioURL,
		Status:      models.StatusPending,
	}, true
}
