package scheduler

import (
	"context"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/tubefeed/tubefeed/pkg/domain"
	"github.com/tubefeed/tubefeed/pkg/metrics"
)

// processFeed runs the full pipeline for one feed: resolve, backlog when
// pending, fetch, diff, deliver. All failures are contained here. Returns the
// feed's resolved id and whether resolution succeeded.
func (s *Scheduler) processFeed(ctx context.Context, f domain.Feed) (feedID int64, resolvedOK bool) {
	key := f.SourceKey()
	if !s.acquire(key) {
		lgr.Printf("[DEBUG] skipping feed %s, previous run still in flight", key)
		return 0, false
	}
	defer s.release(key)
	return s.processAcquired(ctx, f)
}

// processAcquired runs the pipeline for a feed whose in-flight slot is already held
func (s *Scheduler) processAcquired(ctx context.Context, f domain.Feed) (feedID int64, resolvedOK bool) {
	key := f.SourceKey()

	resolved, err := s.resolver.Resolve(ctx, f)
	if err != nil {
		// record the failure under a placeholder id derived from the source,
		// so a permanently broken channel shows up on the status surface
		id := domain.FeedID("unresolved:" + key)
		name := f.Name
		if name == "" {
			name = key
		}
		if upErr := s.store.UpsertFeed(ctx, id, name, ""); upErr != nil {
			lgr.Printf("[WARN] failed to record unresolved feed %s: %v", key, upErr)
		} else if stErr := s.store.UpdateFeedError(ctx, id, err.Error()); stErr != nil {
			lgr.Printf("[WARN] failed to record resolution error for %s: %v", key, stErr)
		}
		metrics.FetchErrorsTotal.WithLabelValues(name).Inc()
		lgr.Printf("[WARN] failed to resolve feed %s: %v", key, err)
		return id, false
	}

	if err := s.store.UpsertFeed(ctx, resolved.ID, resolved.Name, resolved.URL); err != nil {
		lgr.Printf("[ERROR] failed to upsert feed %s: %v", resolved.Name, err)
		return resolved.ID, false
	}

	quality := f.Quality
	if quality == "" {
		quality = s.quality
	}
	format := f.Format
	if format == "" {
		format = s.format
	}

	// one-time backlog pass, gated by the persisted flag
	if f.Backlog != "" {
		done, err := s.store.BacklogDone(ctx, resolved.ID)
		switch {
		case err != nil:
			lgr.Printf("[WARN] failed to read backlog state for %s: %v", resolved.Name, err)
		case !done:
			s.runBacklog(ctx, resolved, f.Backlog, quality, format)
		}
	}

	// regular fetch and diff
	parsed, err := s.parser.Parse(ctx, resolved.URL)
	if err != nil {
		lgr.Printf("[WARN] failed to fetch feed %s: %v", resolved.Name, err)
		if stErr := s.store.UpdateFeedError(ctx, resolved.ID, err.Error()); stErr != nil {
			lgr.Printf("[WARN] failed to record fetch error for %s: %v", resolved.Name, stErr)
		}
		metrics.FetchErrorsTotal.WithLabelValues(resolved.Name).Inc()
		return resolved.ID, true
	}

	urls := make([]string, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		urls = append(urls, item.Link)
	}

	delivered, _ := s.deliverNew(ctx, resolved, urls, quality, format)
	if delivered > 0 {
		lgr.Printf("[INFO] delivered %d new items from feed %s", delivered, resolved.Name)
	}

	if err := s.store.UpdateFeedFetched(ctx, resolved.ID, time.Now()); err != nil {
		lgr.Printf("[WARN] failed to update last fetched for %s: %v", resolved.Name, err)
	}

	return resolved.ID, true
}

// runBacklog enumerates the backlog playlist and delivers everything not yet
// seen. The backlog-done flag is set only after a pass in which every
// enumerated item was either already seen or delivered and recorded; any
// failure leaves the flag unset so the whole gated pass is retried on a later
// tick. Items delivered in a partial pass are in the seen-set and get skipped
// on retry.
func (s *Scheduler) runBacklog(ctx context.Context, resolved domain.ResolvedFeed, playlist, quality, format string) {
	lgr.Printf("[INFO] starting backlog pass for feed %s", resolved.Name)

	urls, err := s.enumerator.Enumerate(ctx, playlist)
	if err != nil {
		lgr.Printf("[WARN] backlog enumeration failed for %s: %v", resolved.Name, err)
		if stErr := s.store.UpdateFeedError(ctx, resolved.ID, err.Error()); stErr != nil {
			lgr.Printf("[WARN] failed to record backlog error for %s: %v", resolved.Name, stErr)
		}
		return
	}

	delivered, failed := s.deliverNew(ctx, resolved, urls, quality, format)
	if failed > 0 {
		lgr.Printf("[WARN] backlog pass for %s incomplete, %d of %d items failed, will retry", resolved.Name, failed, len(urls))
		return
	}

	if err := s.store.MarkBacklogDone(ctx, resolved.ID); err != nil {
		lgr.Printf("[WARN] failed to mark backlog done for %s: %v", resolved.Name, err)
		return
	}
	metrics.BacklogCompletedTotal.Inc()
	lgr.Printf("[INFO] backlog completed for feed %s, delivered %d of %d items", resolved.Name, delivered, len(urls))
}

// deliverNew filters the URLs against the seen-set and delivers the rest.
// An item is marked seen only after its delivery succeeded; failed items stay
// out of the seen-set and are retried on the next cycle. A store failure after
// a successful delivery also leaves the item unseen - a duplicate delivery on
// the next tick beats losing the item.
func (s *Scheduler) deliverNew(ctx context.Context, resolved domain.ResolvedFeed, urls []string, quality, format string) (delivered, failed int) {
	for _, u := range urls {
		select {
		case <-ctx.Done():
			return delivered, failed + 1 // interrupted pass counts as incomplete
		default:
		}

		seen, err := s.store.Seen(ctx, resolved.ID, u)
		if err != nil {
			lgr.Printf("[WARN] failed to check seen state for %s in feed %s: %v", u, resolved.Name, err)
			failed++
			continue
		}
		if seen {
			continue
		}

		if _, err := s.deliverer.Add(ctx, u, quality, format); err != nil {
			lgr.Printf("[WARN] failed to deliver %s from feed %s: %v", u, resolved.Name, err)
			metrics.DeliveryFailuresTotal.WithLabelValues(resolved.Name).Inc()
			failed++
			continue
		}

		if err := s.store.MarkSeen(ctx, resolved.ID, u); err != nil {
			lgr.Printf("[ERROR] delivered %s but failed to record it for feed %s: %v", u, resolved.Name, err)
			failed++
			continue
		}

		metrics.DeliveriesTotal.WithLabelValues(resolved.Name).Inc()
		delivered++
		lgr.Printf("[DEBUG] delivered %s from feed %s", u, resolved.Name)
	}
	return delivered, failed
}
