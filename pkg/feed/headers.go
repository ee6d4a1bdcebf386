package feed

import "net/http"

// feedAccept prefers feed XML but keeps HTML acceptable: some providers serve
// an HTML error page when throttling, and we want the status code, not a 406.
const feedAccept = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.1"

// setFeedHeaders shapes the request for feed endpoints. YouTube's
// feeds/videos.xml answers any client, but responds better to requests that
// look like a regular feed reader than to naked scripts.
func setFeedHeaders(req *http.Request) {
	req.Header.Set("Accept", feedAccept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
}
