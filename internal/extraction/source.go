// Package extraction pulls raw order and transaction records from the
// commerce platform.
//
// A Source serves one page of one feed at a time. RetryPolicy wraps every
// page request with bounded backoff and a per-page timeout, and Fetcher
// drains both feeds concurrently, each into its own buffer. One feed failing
// yields a partial result; both failing is fatal.
//
// Example usage:
//
//	src := extraction.NewRESTSource(extraction.DefaultRESTConfig(baseURL, token), log)
//	f := extraction.NewFetcher(src, extraction.DefaultRetryPolicy(), log)
//	res, err := f.Fetch(ctx, window)
package extraction

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"commerce-reconciliation-service/internal/models"
)

// Feed names a record stream
type Feed string

const (
	FeedOrders       Feed = "orders"
	FeedTransactions Feed = "transactions"
)

// Feeds lists every feed in fetch order
var Feeds = []Feed{FeedOrders, FeedTransactions}

// Window is the half-open extraction interval [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor widens a reconciliation range by bufferDays on both sides so
// records processed around the boundaries are available for matching.
func WindowFor(r models.DateRange, bufferDays int) Window {
	start, end := r.Widen(bufferDays)
	return Window{Start: start, End: end}
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Page is one page of raw records. An empty NextCursor marks the last page.
type Page struct {
	Records    []models.RawRecord
	NextCursor string
}

// Source serves pages of a feed. cursor is empty for the first page.
type Source interface {
	FetchPage(ctx context.Context, feed Feed, window Window, cursor string) (*Page, error)
}

// FetchError carries the transport metadata of a failed page request
type FetchError struct {
	Feed       Feed
	StatusCode int
	RetryAfter time.Duration
	Temporary  bool
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s", e.Feed)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the upstream asked us to slow down
func (e *FetchError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// isTemporaryStatus reports whether a response status is worth retrying
func isTemporaryStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
