package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/pkg/logger"
)

// Endpoint describes how a feed is queried
type Endpoint struct {
	// Path is appended to the base URL, e.g. "orders.json"
	Path string `mapstructure:"path" validate:"required"`
	// Key is the top-level response field holding the records
	Key string `mapstructure:"key" validate:"required"`
	// MinParam and MaxParam carry the window bounds
	MinParam string `mapstructure:"min_param" validate:"required"`
	MaxParam string `mapstructure:"max_param" validate:"required"`
}

// RESTConfig configures the platform REST source
type RESTConfig struct {
	BaseURL           string
	AccessToken       string
	TokenHeader       string
	PageSize          int
	RequestsPerSecond float64
	Burst             int
	Endpoints         map[Feed]Endpoint
}

// DefaultRESTConfig returns a config for the platform admin API at baseURL
func DefaultRESTConfig(baseURL, accessToken string) *RESTConfig {
	return &RESTConfig{
		BaseURL:           strings.TrimRight(baseURL, "/"),
		AccessToken:       accessToken,
		TokenHeader:       "X-Access-Token",
		PageSize:          250,
		RequestsPerSecond: 2,
		Burst:             4,
		Endpoints: map[Feed]Endpoint{
			FeedOrders: {
				Path:     "orders.json",
				Key:      "orders",
				MinParam: "created_at_min",
				MaxParam: "created_at_max",
			},
			FeedTransactions: {
				Path:     "transactions.json",
				Key:      "transactions",
				MinParam: "processed_at_min",
				MaxParam: "processed_at_max",
			},
		},
	}
}

// Validate checks the REST configuration
func (c *RESTConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL '%s': %w", c.BaseURL, err)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive: %d", c.PageSize)
	}
	for _, feed := range Feeds {
		if _, ok := c.Endpoints[feed]; !ok {
			return fmt.Errorf("no endpoint configured for feed '%s'", feed)
		}
	}
	return nil
}

// RESTSource pages through the platform admin API. Pagination follows the
// rel="next" entry of the Link response header.
type RESTSource struct {
	config     *RESTConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Logger
}

// NewRESTSource creates a REST source
func NewRESTSource(config *RESTConfig, log logger.Logger) (*RESTSource, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &RESTSource{
		config:     config,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     log.WithComponent("rest_source"),
	}, nil
}

// SetHTTPClient overrides the HTTP client (useful for testing)
func (s *RESTSource) SetHTTPClient(c *http.Client) {
	s.httpClient = c
}

// FetchPage implements Source
func (s *RESTSource) FetchPage(ctx context.Context, feed Feed, window Window, cursor string) (*Page, error) {
	endpoint, ok := s.config.Endpoints[feed]
	if !ok {
		return nil, &FetchError{Feed: feed, Err: fmt.Errorf("no endpoint configured")}
	}

	reqURL := cursor
	if reqURL == "" {
		params := url.Values{}
		params.Set("status", "any")
		params.Set("limit", strconv.Itoa(s.config.PageSize))
		params.Set(endpoint.MinParam, window.Start.Format(time.RFC3339))
		params.Set(endpoint.MaxParam, window.End.Format(time.RFC3339))
		reqURL = fmt.Sprintf("%s/%s?%s", s.config.BaseURL, endpoint.Path, params.Encode())
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Feed: feed, Temporary: true, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Feed: feed, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set(s.config.TokenHeader, s.config.AccessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Feed: feed, Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Feed:       feed,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Temporary:  isTemporaryStatus(resp.StatusCode),
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	var payload map[string][]models.RawRecord
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, &FetchError{Feed: feed, Temporary: true, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	page := &Page{
		Records:    payload[endpoint.Key],
		NextCursor: nextLink(resp.Header.Values("Link")),
	}

	s.logger.WithFields(logger.Fields{
		logger.FieldFeed: feed,
		"records":        len(page.Records),
		"has_next":       page.NextCursor != "",
		"duration_ms":    time.Since(start).Milliseconds(),
	}).Debug("Fetched page")

	return page, nil
}

// nextLink extracts the rel="next" URL from Link headers
func nextLink(headers []string) string {
	for _, header := range headers {
		for _, part := range strings.Split(header, ",") {
			segments := strings.Split(part, ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, attr := range segments[1:] {
				attr = strings.ReplaceAll(strings.TrimSpace(attr), " ", "")
				if attr == `rel="next"` || attr == "rel=next" {
					return strings.Trim(target, "<>")
				}
			}
		}
	}
	return ""
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
