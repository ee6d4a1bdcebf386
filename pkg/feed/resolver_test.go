package feed

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubefeed/tubefeed/pkg/domain"
)

type fakeLookup struct {
	channelID string
	title     string
	err       error
	calls     int
}

func (f *fakeLookup) Lookup(_ context.Context, _ string) (string, string, error) {
	f.calls++
	return f.channelID, f.title, f.err
}

type fakeFetcher struct {
	feed  *domain.ParsedFeed
	err   error
	calls int
}

func (f *fakeFetcher) Parse(_ context.Context, _ string) (*domain.ParsedFeed, error) {
	f.calls++
	return f.feed, f.err
}

func TestResolver_ResolveURL(t *testing.T) {
	fetcher := &fakeFetcher{feed: &domain.ParsedFeed{Title: "Fetched Title"}}
	r := NewResolver(&fakeLookup{}, fetcher)

	f := domain.Feed{URL: "https://example.com/rss"}
	resolved, err := r.Resolve(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/rss", resolved.URL)
	assert.Equal(t, "Fetched Title", resolved.Name)
	assert.Equal(t, domain.FeedID("https://example.com/rss"), resolved.ID)
	assert.Empty(t, resolved.ChannelID)

	t.Run("explicit name skips the fetch", func(t *testing.T) {
		fetcher := &fakeFetcher{feed: &domain.ParsedFeed{Title: "Fetched Title"}}
		r := NewResolver(&fakeLookup{}, fetcher)

		resolved, err := r.Resolve(context.Background(), domain.Feed{Name: "My Name", URL: "https://example.com/rss"})
		require.NoError(t, err)
		assert.Equal(t, "My Name", resolved.Name)
		assert.Zero(t, fetcher.calls)
	})

	t.Run("fetch failure falls back to the url", func(t *testing.T) {
		fetcher := &fakeFetcher{err: fmt.Errorf("boom")}
		r := NewResolver(&fakeLookup{}, fetcher)

		resolved, err := r.Resolve(context.Background(), domain.Feed{URL: "https://example.com/rss"})
		require.NoError(t, err, "a feed with no usable name is not a resolution error")
		assert.Equal(t, "https://example.com/rss", resolved.Name)
	})

	t.Run("author fills in for a missing title", func(t *testing.T) {
		fetcher := &fakeFetcher{feed: &domain.ParsedFeed{Author: "Some Creator"}}
		r := NewResolver(&fakeLookup{}, fetcher)

		resolved, err := r.Resolve(context.Background(), domain.Feed{URL: "https://example.com/rss"})
		require.NoError(t, err)
		assert.Equal(t, "Some Creator", resolved.Name)
	})
}

func TestResolver_ResolveChannel(t *testing.T) {
	lookup := &fakeLookup{channelID: "UCabcdef123456", title: "Creator Channel"}
	r := NewResolver(lookup, &fakeFetcher{})

	tests := []struct {
		feedType domain.FeedType
		wantURL  string
	}{
		{domain.FeedTypeAll, "https://www.youtube.com/feeds/videos.xml?channel_id=UCabcdef123456"},
		{domain.FeedTypeVideos, "https://www.youtube.com/feeds/videos.xml?playlist_id=UULFabcdef123456"},
		{domain.FeedTypeShorts, "https://www.youtube.com/feeds/videos.xml?playlist_id=UUSHabcdef123456"},
		{domain.FeedTypeLive, "https://www.youtube.com/feeds/videos.xml?playlist_id=UULVabcdef123456"},
	}

	for _, tt := range tests {
		t.Run(string(tt.feedType), func(t *testing.T) {
			resolved, err := r.Resolve(context.Background(), domain.Feed{Channel: "@creator", FeedType: tt.feedType})
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, resolved.URL)
			assert.Equal(t, "Creator Channel", resolved.Name)
			assert.Equal(t, "UCabcdef123456", resolved.ChannelID)
			assert.Equal(t, domain.FeedID(tt.wantURL), resolved.ID)
		})
	}
}

func TestResolver_ChannelLookupFailure(t *testing.T) {
	lookup := &fakeLookup{err: ErrChannelNotFound}
	r := NewResolver(lookup, &fakeFetcher{})

	_, err := r.Resolve(context.Background(), domain.Feed{Channel: "@missing", FeedType: domain.FeedTypeAll})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestResolver_Cache(t *testing.T) {
	lookup := &fakeLookup{channelID: "UCabc", title: "Cached"}
	r := NewResolver(lookup, &fakeFetcher{})

	f := domain.Feed{Channel: "@creator", FeedType: domain.FeedTypeAll}
	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), f)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, lookup.calls, "repeated resolution must hit the cache")

	t.Run("different feed type is a different source", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), domain.Feed{Channel: "@creator", FeedType: domain.FeedTypeShorts})
		require.NoError(t, err)
		assert.Equal(t, 2, lookup.calls)
	})

	t.Run("failures are not cached", func(t *testing.T) {
		failing := &fakeLookup{err: fmt.Errorf("transient")}
		r := NewResolver(failing, &fakeFetcher{})

		f := domain.Feed{Channel: "@flaky", FeedType: domain.FeedTypeAll}
		_, err := r.Resolve(context.Background(), f)
		require.Error(t, err)

		failing.err = nil
		failing.channelID = "UCnowfine"
		_, err = r.Resolve(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, 2, failing.calls)
	})
}

func TestResolver_CleanName(t *testing.T) {
	lookup := &fakeLookup{channelID: "UCabc", title: "<b>Creator</b> &amp; Friends "}
	r := NewResolver(lookup, &fakeFetcher{})

	resolved, err := r.Resolve(context.Background(), domain.Feed{Channel: "@creator", FeedType: domain.FeedTypeAll})
	require.NoError(t, err)
	assert.Equal(t, "Creator & Friends", resolved.Name)
}

func TestFeedURLFor(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/feeds/videos.xml?channel_id=UCxyz",
		FeedURLFor("UCxyz", domain.FeedTypeAll))
	assert.Equal(t, "https://www.youtube.com/feeds/videos.xml?playlist_id=UULFxyz",
		FeedURLFor("UCxyz", domain.FeedTypeVideos))
	// ids too short for prefixing pass through unchanged
	assert.Equal(t, "https://www.youtube.com/feeds/videos.xml?playlist_id=UC",
		FeedURLFor("UC", domain.FeedTypeShorts))
}
