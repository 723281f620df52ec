package domain

import "time"

// RejectReason classifies why a scrape submission was refused at the
// boundary. The numeric values are part of the external contract.
type RejectReason int

const (
	RejectNone          RejectReason = 0
	RejectNotAMapping   RejectReason = 1
	RejectInvalidAPIKey RejectReason = 2
	RejectMissingKey    RejectReason = 6
	RejectMissingField  RejectReason = 7
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "accepted"
	case RejectNotAMapping:
		return "payload is not a JSON object"
	case RejectInvalidAPIKey:
		return "invalid api key"
	case RejectMissingKey:
		return "missing required top-level key"
	case RejectMissingField:
		return "price record missing required field"
	default:
		return "rejected"
	}
}

// ScrapeItem is one price observation inside a scraper submission.
// Reference carries the raw store-assigned identifier; normalization into
// the canonical integer form happens per item inside the engine so a bad
// reference fails that item alone. A NaN Amount marks a non-numeric
// item_price for the same per-item treatment.
type ScrapeItem struct {
	Name       string
	Link       string
	Amount     float64
	Discounted bool
	Reference  string
	FetchedAt  *time.Time
}

// ScrapeBatch is one validated scraper submission: a store name and its
// price observations.
type ScrapeBatch struct {
	Store string
	Items []ScrapeItem
}
