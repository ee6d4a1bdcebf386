// Package backlog enumerates the full historical item list of a playlist,
// used for the one-time backlog ingestion pass of a feed.
package backlog

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Enumerator lists all item URLs of a playlist-like source without downloading
type Enumerator interface {
	Enumerate(ctx context.Context, playlistURL string) ([]string, error)
}

// YtDlp enumerates playlists by invoking the yt-dlp binary in flat-playlist
// mode, which lists entries without fetching their content.
type YtDlp struct {
	binary  string
	timeout time.Duration
}

// NewYtDlp creates an enumerator using the given binary name and timeout.
// An empty binary defaults to "yt-dlp" on PATH.
func NewYtDlp(binary string, timeout time.Duration) *YtDlp {
	if binary == "" {
		binary = "yt-dlp"
	}
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &YtDlp{binary: binary, timeout: timeout}
}

// Enumerate returns the playlist's item URLs in playlist order
func (y *YtDlp) Enumerate(ctx context.Context, playlistURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, y.binary,
		"--flat-playlist", "--no-warnings", "--print", "url", playlistURL) //nolint:gosec // binary name comes from config
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("enumerate playlist %s: %w: %s", playlistURL, err, firstLine(msg))
		}
		return nil, fmt.Errorf("enumerate playlist %s: %w", playlistURL, err)
	}

	var urls []string
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read yt-dlp output: %w", err)
	}

	return urls, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
