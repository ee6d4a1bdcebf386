package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// YouTubeLookup resolves channel handles to channel ids by fetching the
// channel page and reading its metadata tags.
type YouTubeLookup struct {
	client    *http.Client
	userAgent string
}

// NewYouTubeLookup creates a channel lookup with the given timeout
func NewYouTubeLookup(timeout time.Duration, userAgent string) *YouTubeLookup {
	return &YouTubeLookup{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Lookup resolves a channel handle, name or URL to (channelID, title).
// Returns ErrChannelNotFound when the page has no channel metadata.
func (l *YouTubeLookup) Lookup(ctx context.Context, channelRef string) (channelID, title string, err error) {
	pageURL := channelPageURL(channelRef)
	if pageURL == "" {
		return "", "", fmt.Errorf("empty channel reference")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch channel page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", "", fmt.Errorf("channel %s: %w", channelRef, ErrChannelNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("channel page returned status %d", resp.StatusCode)
	}

	channelID, title = extractChannelMeta(resp.Body)
	if channelID == "" {
		return "", "", fmt.Errorf("channel %s: %w", channelRef, ErrChannelNotFound)
	}
	return channelID, title, nil
}

// channelPageURL turns a handle, bare name or URL into a channel page URL
func channelPageURL(ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "@"):
		return "https://www.youtube.com/" + ref
	default:
		return "https://www.youtube.com/@" + ref
	}
}

// extractChannelMeta walks the page HTML looking for the channel identifier
// and title. YouTube exposes the id as <meta itemprop="identifier"> and in the
// canonical link, and the title as <meta property="og:title">.
func extractChannelMeta(body io.Reader) (channelID, title string) {
	doc, err := html.Parse(body)
	if err != nil {
		return "", ""
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				prop, itemprop, content := attr(n, "property"), attr(n, "itemprop"), attr(n, "content")
				if itemprop == "identifier" && channelID == "" {
					channelID = content
				}
				if prop == "og:title" && title == "" {
					title = content
				}
			case "link":
				if attr(n, "rel") == "canonical" && channelID == "" {
					if id, ok := channelIDFromURL(attr(n, "href")); ok {
						channelID = id
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return channelID, title
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// channelIDFromURL extracts the "UC..." id from a /channel/ URL
func channelIDFromURL(u string) (string, bool) {
	const marker = "/channel/"
	idx := strings.Index(u, marker)
	if idx < 0 {
		return "", false
	}
	id := u[idx+len(marker):]
	if end := strings.IndexAny(id, "/?#"); end >= 0 {
		id = id[:end]
	}
	if id == "" {
		return "", false
	}
	return id, true
}
