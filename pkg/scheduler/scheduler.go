package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/tubefeed/tubefeed/pkg/domain"
	"github.com/tubefeed/tubefeed/pkg/metrics"
)

// ErrFeedBusy indicates the feed's previous pipeline run has not finished yet
var ErrFeedBusy = errors.New("feed busy")

// Scheduler runs the polling pipeline: on a fixed interval it resolves every
// configured feed, runs the one-time backlog pass when pending, fetches the
// feed, diffs the items against the seen-set and delivers new ones to the
// download queue. Feeds are processed independently; one feed failing never
// affects its siblings or the next tick.
type Scheduler struct {
	store      Store
	resolver   Resolver
	parser     Parser
	enumerator Enumerator
	deliverer  Deliverer

	pollInterval time.Duration
	maxWorkers   int
	quality      string
	format       string

	feedsMu sync.Mutex
	feeds   []domain.Feed

	inFlightMu sync.Mutex
	inFlight   map[string]struct{} // per-feed overlap guard, keyed by source

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Store is the persisted per-feed state used by the scheduler
type Store interface {
	UpsertFeed(ctx context.Context, id int64, name, url string) error
	Seen(ctx context.Context, feedID int64, itemURL string) (bool, error)
	MarkSeen(ctx context.Context, feedID int64, itemURL string) error
	BacklogDone(ctx context.Context, feedID int64) (bool, error)
	MarkBacklogDone(ctx context.Context, feedID int64) error
	UpdateFeedFetched(ctx context.Context, feedID int64, fetched time.Time) error
	UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error
	PruneFeeds(ctx context.Context, keep []int64) error
	FeedStatuses(ctx context.Context) ([]domain.FeedStatus, error)
}

// Resolver maps a configured feed source to a fetchable feed URL
type Resolver interface {
	Resolve(ctx context.Context, f domain.Feed) (domain.ResolvedFeed, error)
}

// Parser fetches and parses a feed URL
type Parser interface {
	Parse(ctx context.Context, url string) (*domain.ParsedFeed, error)
}

// Enumerator lists all item URLs of a backlog playlist
type Enumerator interface {
	Enumerate(ctx context.Context, playlistURL string) ([]string, error)
}

// Deliverer posts one item to the download queue
type Deliverer interface {
	Add(ctx context.Context, itemURL, quality, format string) (domain.DeliveryResult, error)
}

// Config holds scheduler configuration
type Config struct {
	PollInterval time.Duration
	MaxWorkers   int
	Quality      string // default quality for feeds without an override
	Format       string // default format for feeds without an override
}

// New creates a scheduler for the given feeds and collaborators
func New(store Store, resolver Resolver, parser Parser, enumerator Enumerator, deliverer Deliverer,
	feeds []domain.Feed, cfg Config) *Scheduler {

	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.Quality == "" {
		cfg.Quality = "best"
	}

	return &Scheduler{
		store:        store,
		resolver:     resolver,
		parser:       parser,
		enumerator:   enumerator,
		deliverer:    deliverer,
		feeds:        feeds,
		pollInterval: cfg.PollInterval,
		maxWorkers:   cfg.MaxWorkers,
		quality:      cfg.Quality,
		format:       cfg.Format,
		inFlight:     map[string]struct{}{},
	}
}

// Start begins the polling loop. The first tick runs immediately; subsequent
// ticks fire on a fixed-interval timer so slow work doesn't accumulate drift.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.tickLoop(ctx)

	lgr.Printf("[INFO] scheduler started, poll interval %v, %d workers", s.pollInterval, s.maxWorkers)
}

// Stop gracefully stops the scheduler, waiting for the in-flight tick
func (s *Scheduler) Stop() {
	lgr.Printf("[INFO] stopping scheduler...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

// SetFeeds replaces the monitored feed set; takes effect on the next tick
func (s *Scheduler) SetFeeds(feeds []domain.Feed) {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()
	s.feeds = feeds
}

// Status returns a read-only snapshot of all feed states
func (s *Scheduler) Status(ctx context.Context) ([]domain.FeedStatus, error) {
	return s.store.FeedStatuses(ctx)
}

// RefreshFeed triggers an immediate poll of the feed with the given id.
// Returns ErrFeedBusy when the feed's previous pipeline run is still in flight.
func (s *Scheduler) RefreshFeed(ctx context.Context, feedID int64) error {
	for _, f := range s.snapshotFeeds() {
		resolved, err := s.resolver.Resolve(ctx, f)
		if err != nil {
			continue // unresolvable feeds can't match by id
		}
		if resolved.ID != feedID {
			continue
		}

		key := f.SourceKey()
		if !s.acquire(key) {
			return fmt.Errorf("feed %d: %w", feedID, ErrFeedBusy)
		}
		defer s.release(key)
		s.processAcquired(ctx, f)
		return nil
	}
	return fmt.Errorf("feed %d not configured", feedID)
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick processes all configured feeds with bounded concurrency
func (s *Scheduler) tick(ctx context.Context) {
	feeds := s.snapshotFeeds()
	lgr.Printf("[INFO] polling %d feeds", len(feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)

	var mu sync.Mutex
	activeIDs := make([]int64, 0, len(feeds))
	allResolved := true

	for _, f := range feeds {
		g.Go(func() error {
			id, ok := s.processFeed(gctx, f)
			mu.Lock()
			if ok {
				activeIDs = append(activeIDs, id)
			} else {
				allResolved = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// drop state of removed feeds, but only when every feed resolved this
	// tick - a transient resolution failure must not wipe a feed's seen-set
	if allResolved {
		if err := s.store.PruneFeeds(ctx, activeIDs); err != nil {
			lgr.Printf("[WARN] failed to prune removed feeds: %v", err)
		}
	}

	metrics.TicksTotal.Inc()
	lgr.Printf("[INFO] polling tick completed")
}

func (s *Scheduler) snapshotFeeds() []domain.Feed {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()
	feeds := make([]domain.Feed, len(s.feeds))
	copy(feeds, s.feeds)
	return feeds
}

// acquire marks the feed as in-flight; returns false when a previous pipeline
// for the same feed is still running, which serializes backlog vs. fetch
func (s *Scheduler) acquire(key string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, key)
}
