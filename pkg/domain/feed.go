package domain

import (
	"hash/fnv"
	"time"
)

// FeedType selects which subset of a channel's uploads the resolved feed covers
type FeedType string

// feed types supported by YouTube channel feeds
const (
	FeedTypeAll    FeedType = "all"
	FeedTypeVideos FeedType = "videos"
	FeedTypeShorts FeedType = "shorts"
	FeedTypeLive   FeedType = "live"
)

// Valid reports whether the feed type is one of the known values
func (t FeedType) Valid() bool {
	switch t {
	case FeedTypeAll, FeedTypeVideos, FeedTypeShorts, FeedTypeLive:
		return true
	}
	return false
}

// Feed represents one monitored feed as configured by the user.
// Source is either a raw feed URL or a channel handle/name; which one it is
// gets decided at config-parse time, not by string-shape checks downstream.
type Feed struct {
	Name     string   // display name, may be empty until resolved
	URL      string   // raw feed URL, empty when Channel is set
	Channel  string   // channel handle/name/URL, empty when URL is set
	FeedType FeedType // which channel feed to watch, only used with Channel
	Backlog  string   // playlist URL for one-time historical ingestion, empty if none
	Quality  string   // per-feed quality override, empty means global default
	Format   string   // per-feed format override, empty means global default
}

// IsChannel reports whether the feed source is a channel identity that needs resolution
func (f *Feed) IsChannel() bool { return f.Channel != "" }

// SourceKey identifies the feed by its configured source, usable before resolution
func (f *Feed) SourceKey() string {
	if f.IsChannel() {
		return f.Channel + ":" + string(f.FeedType)
	}
	return f.URL
}

// ResolvedFeed is the uniform result of resolving a Feed source
type ResolvedFeed struct {
	ID        int64  // stable identifier derived from the feed URL
	URL       string // concrete fetchable feed URL
	Name      string // canonical display name
	ChannelID string // resolved channel id, empty for plain URL feeds
}

// FeedID derives a stable feed identifier from the resolved feed URL.
// Two configs pointing at the same feed URL share a seen-set; changing the
// source gives a fresh one.
func FeedID(feedURL string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feedURL))
	return int64(h.Sum64() & 0x7fffffffffffffff) // keep it positive for SQLite
}

// FeedStatus is a read-only snapshot of one feed's state for the status surface
type FeedStatus struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Delivered   int64      `json:"delivered"`
	LastFetched *time.Time `json:"last_fetched,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	BacklogDone bool       `json:"backlog_done"`
}
