package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tubefeed/tubefeed/pkg/domain"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Status server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:tubefeed.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Schedule struct {
		PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" jsonschema:"default=1h,description=Feed polling interval"`
		MaxWorkers   int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=4,description=Maximum concurrent feed workers"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Scheduler configuration"`

	MeTube MeTubeConfig `yaml:"metube" json:"metube" jsonschema:"description=MeTube download queue configuration"`

	Feeds []Feed `yaml:"feeds" json:"feeds" jsonschema:"description=Monitored feeds"`
}

// MeTubeConfig holds the downstream download-queue API settings
type MeTubeConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url" jsonschema:"required,description=MeTube instance base URL"`
	Quality   string        `yaml:"quality" json:"quality" jsonschema:"default=best,description=Download quality passed to MeTube"`
	Format    string        `yaml:"format" json:"format" jsonschema:"description=Download format passed to MeTube (optional)"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Request timeout for delivery calls"`
	SkipCheck bool          `yaml:"skip_check" json:"skip_check" jsonschema:"default=false,description=Skip the startup reachability check"`
}

// Feed is one monitored feed entry. It accepts two YAML shapes: a mapping with
// explicit fields, or the compact one-line string form carried over from the
// previous configuration format:
//
//	"Name | https://example.com/rss | https://youtube.com/playlist?list=..."
//	"@handle | shorts | https://youtube.com/playlist?list=..."
type Feed struct {
	Name     string `yaml:"name" json:"name" jsonschema:"description=Display name (resolved from the feed when empty)"`
	URL      string `yaml:"url" json:"url" jsonschema:"description=Raw RSS/Atom feed URL"`
	Channel  string `yaml:"channel" json:"channel" jsonschema:"description=YouTube channel handle or URL to resolve"`
	FeedType string `yaml:"feed_type" json:"feed_type" jsonschema:"default=all,description=Channel feed type: all/videos/shorts/live"`
	Backlog  string `yaml:"backlog" json:"backlog" jsonschema:"description=Playlist URL for one-time backlog ingestion"`
	Quality  string `yaml:"quality" json:"quality" jsonschema:"description=Per-feed quality override"`
	Format   string `yaml:"format" json:"format" jsonschema:"description=Per-feed format override"`
}

// qualityOptions are the values MeTube accepts for yt-dlp quality selection
var qualityOptions = map[string]bool{
	"best": true, "2160p": true, "1440p": true, "1080p": true,
	"720p": true, "480p": true, "360p": true, "240p": true, "worst": true,
}

// DefaultQuality is used when neither the feed nor the metube section sets one
const DefaultQuality = "best"

// UnmarshalYAML accepts both the mapping form and the compact string form
func (f *Feed) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var line string
		if err := node.Decode(&line); err != nil {
			return err
		}
		parsed, err := parseFeedLine(line)
		if err != nil {
			return err
		}
		*f = parsed
		return nil
	}

	// plain struct decode, alias type avoids UnmarshalYAML recursion
	type rawFeed Feed
	var raw rawFeed
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*f = Feed(raw)
	return nil
}

// ToDomain converts the config entry to the domain representation
func (f *Feed) ToDomain() domain.Feed {
	ft := domain.FeedType(strings.ToLower(strings.TrimSpace(f.FeedType)))
	if !ft.Valid() {
		ft = domain.FeedTypeAll
	}
	return domain.Feed{
		Name:     strings.TrimSpace(f.Name),
		URL:      strings.TrimSpace(f.URL),
		Channel:  strings.TrimSpace(f.Channel),
		FeedType: ft,
		Backlog:  strings.TrimSpace(f.Backlog),
		Quality:  strings.TrimSpace(f.Quality),
		Format:   strings.TrimSpace(f.Format),
	}
}

// parseFeedLine parses the compact "a | b | c" feed syntax. The first segment
// decides the variant: a channel reference makes it a channel feed with an
// optional feed type, anything else is treated as "Name | URL" with the URL
// allowed to come first when no name is given.
func parseFeedLine(line string) (Feed, error) {
	parts := strings.Split(line, " | ")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	var first, second, backlog string
	switch {
	case len(parts) >= 3:
		first, second, backlog = parts[0], parts[1], strings.Join(parts[2:], " | ")
	case len(parts) == 2:
		first, second = parts[0], parts[1]
	default:
		first = parts[0]
	}

	if first == "" {
		return Feed{}, fmt.Errorf("empty feed line")
	}

	if looksLikeChannel(first) {
		ft := string(domain.FeedTypeAll)
		if second != "" && domain.FeedType(strings.ToLower(second)).Valid() {
			ft = strings.ToLower(second)
		}
		return Feed{Channel: first, FeedType: ft, Backlog: backlog}, nil
	}

	if isHTTPURL(second) {
		return Feed{Name: first, URL: second, Backlog: backlog}, nil
	}
	if isHTTPURL(first) {
		return Feed{URL: first, Backlog: backlog}, nil
	}
	return Feed{}, fmt.Errorf("feed line %q has no feed URL or channel reference", line)
}

// looksLikeChannel reports whether s is a YouTube channel reference (handle or URL)
func looksLikeChannel(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "@") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "youtube.com/channel/") ||
		strings.Contains(lower, "youtube.com/@") ||
		strings.Contains(lower, "youtu.be/")
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

var baseURLRe = regexp.MustCompile(`^https?://[^/]+`)

// NormalizeBaseURL adds a scheme when missing and strips the trailing slash
func NormalizeBaseURL(u string) string {
	u = strings.TrimSpace(u)
	if u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// set defaults for server
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 30 * time.Second
	}

	// set defaults for database
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:tubefeed.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	// set defaults for schedule
	if cfg.Schedule.PollInterval == 0 {
		cfg.Schedule.PollInterval = time.Hour
	}
	if cfg.Schedule.MaxWorkers == 0 {
		cfg.Schedule.MaxWorkers = 4
	}

	// set defaults for metube
	cfg.MeTube.BaseURL = NormalizeBaseURL(cfg.MeTube.BaseURL)
	if cfg.MeTube.Quality == "" {
		cfg.MeTube.Quality = DefaultQuality
	}
	if cfg.MeTube.Timeout == 0 {
		cfg.MeTube.Timeout = 30 * time.Second
	}

	// validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	// verify against embedded schema
	if err := VerifyAgainstEmbeddedSchema(&cfg); err != nil {
		// log warning but don't fail - schema validation is supplementary
		fmt.Printf("warning: schema validation failed: %v\n", err)
	}

	return &cfg, nil
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	// validate metube config
	if cfg.MeTube.BaseURL == "" {
		return fmt.Errorf("metube.base_url is required")
	}
	if !baseURLRe.MatchString(cfg.MeTube.BaseURL) {
		return fmt.Errorf("metube.base_url %q is not a valid URL", cfg.MeTube.BaseURL)
	}
	if !qualityOptions[cfg.MeTube.Quality] {
		return fmt.Errorf("metube.quality %q is not a valid quality option", cfg.MeTube.Quality)
	}

	// validate feeds
	for i, f := range cfg.Feeds {
		if f.URL == "" && f.Channel == "" {
			return fmt.Errorf("feeds[%d]: either url or channel is required", i)
		}
		if f.URL != "" && f.Channel != "" {
			return fmt.Errorf("feeds[%d]: url and channel are mutually exclusive", i)
		}
		if f.FeedType != "" && !domain.FeedType(strings.ToLower(f.FeedType)).Valid() {
			return fmt.Errorf("feeds[%d]: unknown feed_type %q", i, f.FeedType)
		}
		if f.Quality != "" && !qualityOptions[f.Quality] {
			return fmt.Errorf("feeds[%d]: unknown quality %q", i, f.Quality)
		}
	}

	// validate server config
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetFeeds returns the configured feeds converted to domain form
func (c *Config) GetFeeds() []domain.Feed {
	feeds := make([]domain.Feed, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		feeds = append(feeds, f.ToDomain())
	}
	return feeds
}

// GetMeTubeConfig returns the download-queue configuration
func (c *Config) GetMeTubeConfig() MeTubeConfig {
	return c.MeTube
}
