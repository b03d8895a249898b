package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

// Result holds the raw records of one extraction
type Result struct {
	Orders       []models.RawRecord
	Transactions []models.RawRecord

	// FeedErrors holds the final error of every feed that could not be drained
	FeedErrors map[Feed]error

	Stats map[Feed]logger.ProgressStats
}

// Partial reports whether one of the feeds is missing
func (r *Result) Partial() bool {
	return len(r.FeedErrors) > 0
}

// FailedFeeds returns the names of the feeds that failed, sorted
func (r *Result) FailedFeeds() []string {
	var out []string
	for _, feed := range Feeds {
		if _, ok := r.FeedErrors[feed]; ok {
			out = append(out, string(feed))
		}
	}
	return out
}

// Fetcher drains both feeds concurrently
type Fetcher struct {
	source   Source
	retry    *RetryPolicy
	maxPages int
	logger   logger.Logger
}

// NewFetcher creates a fetcher over source
func NewFetcher(source Source, retry *RetryPolicy, log logger.Logger) *Fetcher {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("fetcher")
	return &Fetcher{
		source:   source,
		retry:    retry.WithLogger(log),
		maxPages: 10000,
		logger:   log,
	}
}

// Fetch pulls both feeds over window. Each feed writes only its own buffer.
// When exactly one feed fails the result is partial and err is nil; when both
// fail the error is fatal.
func (f *Fetcher) Fetch(ctx context.Context, window Window) (*Result, error) {
	f.logger.WithField("window", window.String()).Info("Starting extraction")

	var (
		buffers [2][]models.RawRecord
		errs    [2]error
		stats   [2]logger.ProgressStats
	)

	var wg conc.WaitGroup
	for i, feed := range Feeds {
		i, feed := i, feed
		wg.Go(func() {
			buffers[i], stats[i], errs[i] = f.drain(ctx, feed, window)
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		return nil, errors.InternalError("extraction", recovered.AsError())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Orders:       buffers[0],
		Transactions: buffers[1],
		FeedErrors:   make(map[Feed]error),
		Stats:        make(map[Feed]logger.ProgressStats),
	}
	for i, feed := range Feeds {
		result.Stats[feed] = stats[i]
		if errs[i] != nil {
			result.FeedErrors[feed] = errors.ExtractionError(errors.CodeFeedUnavailable, string(feed), errs[i])
		}
	}

	if len(result.FeedErrors) == len(Feeds) {
		msgs := make([]string, 0, len(Feeds))
		for i, feed := range Feeds {
			msgs = append(msgs, fmt.Sprintf("%s: %v", feed, errs[i]))
		}
		return nil, errors.ExtractionError(
			errors.CodeFeedsUnavailable,
			strings.Join(result.FailedFeeds(), ","),
			fmt.Errorf("%s", strings.Join(msgs, "; ")),
		)
	}

	if result.Partial() {
		f.logger.WithField("failed_feeds", result.FailedFeeds()).Warn("Extraction is partial")
	}

	return result, nil
}

// drain follows cursors until the feed is exhausted
func (f *Fetcher) drain(ctx context.Context, feed Feed, window Window) ([]models.RawRecord, logger.ProgressStats, error) {
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "extract_" + string(feed),
		Logger:    f.logger,
	})

	var records []models.RawRecord
	seen := make(map[string]struct{})
	cursor := ""

	for pages := 0; ; pages++ {
		if pages >= f.maxPages {
			err := fmt.Errorf("page limit %d reached", f.maxPages)
			tracker.CompleteWithError(err)
			return nil, tracker.Stats(), err
		}

		var page *Page
		err := f.retry.Do(ctx, string(feed), func(ctx context.Context) error {
			p, err := f.source.FetchPage(ctx, feed, window, cursor)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			tracker.CompleteWithError(err)
			return nil, tracker.Stats(), err
		}

		records = append(records, page.Records...)
		tracker.AddPage(len(page.Records))

		if page.NextCursor == "" {
			break
		}
		if _, loop := seen[page.NextCursor]; loop {
			err := fmt.Errorf("pagination cursor repeated: %s", page.NextCursor)
			tracker.CompleteWithError(err)
			return nil, tracker.Stats(), err
		}
		seen[page.NextCursor] = struct{}{}
		cursor = page.NextCursor
	}

	tracker.Complete()
	return records, tracker.Stats(), nil
}
