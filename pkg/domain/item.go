package domain

import "time"

// Item is a single entry of a parsed feed. The link URL doubles as the item's
// identity in the seen-set and as the payload handed to the download queue.
type Item struct {
	Title     string
	Link      string
	GUID      string
	Published time.Time
}

// ParsedFeed is the result of fetching and parsing one feed URL
type ParsedFeed struct {
	Title  string
	Author string
	Link   string
	Items  []Item
}

// DeliveryResult is the outcome of one delivery attempt to the download queue
type DeliveryResult struct {
	OK         bool
	StatusCode int    // HTTP status of the response, 0 on transport failure
	Reason     string // short failure description, empty on success
}
