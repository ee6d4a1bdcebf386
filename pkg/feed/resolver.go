package feed

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/tubefeed/tubefeed/pkg/domain"
)

// ErrChannelNotFound indicates the channel reference could not be resolved
var ErrChannelNotFound = errors.New("channel not found")

// ChannelLookup resolves a channel handle/name/URL to its canonical id and title
type ChannelLookup interface {
	Lookup(ctx context.Context, channelRef string) (channelID, title string, err error)
}

// TitleFetcher fetches a feed to obtain its metadata, used for lazy display names
type TitleFetcher interface {
	Parse(ctx context.Context, url string) (*domain.ParsedFeed, error)
}

// Resolver turns a configured feed source into a concrete fetchable feed URL
// plus a display name. Resolution is idempotent and cached per source; the
// cache key is the source identity, so a reconfigured source re-resolves.
type Resolver struct {
	lookup  ChannelLookup
	fetcher TitleFetcher

	mu        sync.Mutex
	cache     map[string]domain.ResolvedFeed
	sanitizer *bluemonday.Policy
}

// NewResolver creates a resolver using the given channel lookup and feed fetcher
func NewResolver(lookup ChannelLookup, fetcher TitleFetcher) *Resolver {
	return &Resolver{
		lookup:  lookup,
		fetcher: fetcher,
		cache:   map[string]domain.ResolvedFeed{},
		// feed titles come from untrusted XML, strip any markup before they
		// reach the status surface
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Resolve maps a configured feed to its fetchable URL and display name
func (r *Resolver) Resolve(ctx context.Context, f domain.Feed) (domain.ResolvedFeed, error) {
	key := r.cacheKey(f)

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	resolved, err := r.resolve(ctx, f)
	if err != nil {
		return domain.ResolvedFeed{}, err
	}

	r.mu.Lock()
	r.cache[key] = resolved
	r.mu.Unlock()
	return resolved, nil
}

func (r *Resolver) resolve(ctx context.Context, f domain.Feed) (domain.ResolvedFeed, error) {
	if f.IsChannel() {
		channelID, title, err := r.lookup.Lookup(ctx, f.Channel)
		if err != nil {
			return domain.ResolvedFeed{}, fmt.Errorf("resolve channel %s: %w", f.Channel, err)
		}

		feedURL := FeedURLFor(channelID, f.FeedType)
		name := f.Name
		if name == "" {
			name = title
		}
		if name == "" {
			name = f.Channel
		}
		return domain.ResolvedFeed{
			ID:        domain.FeedID(feedURL),
			URL:       feedURL,
			Name:      r.cleanName(name),
			ChannelID: channelID,
		}, nil
	}

	// raw feed URL passes through unchanged, display name fetched lazily
	name := f.Name
	if name == "" {
		name = r.fetchName(ctx, f.URL)
	}
	return domain.ResolvedFeed{
		ID:   domain.FeedID(f.URL),
		URL:  f.URL,
		Name: r.cleanName(name),
	}, nil
}

// fetchName retrieves the feed's own title for display. Failures fall back to
// the URL, a feed with no usable name is not a resolution error.
func (r *Resolver) fetchName(ctx context.Context, feedURL string) string {
	parsed, err := r.fetcher.Parse(ctx, feedURL)
	if err != nil {
		return feedURL
	}
	if parsed.Title != "" {
		return parsed.Title
	}
	if parsed.Author != "" {
		return parsed.Author
	}
	return feedURL
}

// cleanName strips markup and entities from a feed-provided display name
func (r *Resolver) cleanName(name string) string {
	return strings.TrimSpace(html.UnescapeString(r.sanitizer.Sanitize(name)))
}

func (r *Resolver) cacheKey(f domain.Feed) string {
	if f.IsChannel() {
		return "channel:" + f.Channel + ":" + string(f.FeedType)
	}
	return "url:" + f.URL
}

// playlist id prefixes for per-type channel feeds, applied to the channel id
// without its leading "UC"
var feedTypePrefix = map[domain.FeedType]string{
	domain.FeedTypeVideos: "UULF",
	domain.FeedTypeShorts: "UUSH",
	domain.FeedTypeLive:   "UULV",
}

// FeedURLFor builds the RSS feed URL for a channel id and feed type
func FeedURLFor(channelID string, ft domain.FeedType) string {
	if ft == domain.FeedTypeAll || !ft.Valid() {
		return "https://www.youtube.com/feeds/videos.xml?channel_id=" + channelID
	}

	playlistID := channelID
	if len(channelID) > 2 {
		playlistID = feedTypePrefix[ft] + channelID[2:]
	}
	return "https://www.youtube.com/feeds/videos.xml?playlist_id=" + playlistID
}
