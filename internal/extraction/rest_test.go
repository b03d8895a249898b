package extraction

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-reconciliation-service/pkg/logger"
)

const testToken = "shpat_test"

// fakePlatform serves two pages of orders and a rate-limited transactions feed
func fakePlatform(t *testing.T, txHits *int32) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-Access-Token") != testToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/orders.json", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if req.URL.Query().Get("page_info") == "" {
			assert.Equal(t, "any", req.URL.Query().Get("status"))
			assert.NotEmpty(t, req.URL.Query().Get("created_at_min"))
			next := fmt.Sprintf("http://%s/orders.json?page_info=p2", req.Host)
			w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, next))
			fmt.Fprint(w, `{"orders":[{"id":1,"total_price":"10.00"},{"id":2,"total_price":"20.00"}]}`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/orders.json?page_info=p1>; rel="previous"`, req.Host))
		fmt.Fprint(w, `{"orders":[{"id":3,"total_price":"30.00"}]}`)
	})

	r.Get("/transactions.json", func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(txHits, 1) == 1 {
			w.Header().Set("Retry-After", "3")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"transactions":[{"id":"t1","amount":"10.00"}]}`)
	})

	return httptest.NewServer(r)
}

func testRESTSource(t *testing.T, baseURL, token string) *RESTSource {
	t.Helper()
	cfg := DefaultRESTConfig(baseURL, token)
	cfg.RequestsPerSecond = 0
	src, err := NewRESTSource(cfg, logger.Discard())
	require.NoError(t, err)
	return src
}

func testWindow() Window {
	start := time.Date(2025, 7, 28, 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(0, 0, 3)}
}

func TestRESTSourcePagination(t *testing.T) {
	var hits int32
	server := fakePlatform(t, &hits)
	defer server.Close()

	src := testRESTSource(t, server.URL, testToken)

	first, err := src.FetchPage(context.Background(), FeedOrders, testWindow(), "")
	require.NoError(t, err)
	assert.Len(t, first.Records, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := src.FetchPage(context.Background(), FeedOrders, testWindow(), first.NextCursor)
	require.NoError(t, err)
	assert.Len(t, second.Records, 1)
	assert.Empty(t, second.NextCursor)
	assert.Equal(t, "3", second.Records[0].String("id"))
}

func TestRESTSourceErrors(t *testing.T) {
	var hits int32
	server := fakePlatform(t, &hits)
	defer server.Close()

	// rate limited on the first call
	src := testRESTSource(t, server.URL, testToken)
	_, err := src.FetchPage(context.Background(), FeedTransactions, testWindow(), "")
	var fe *FetchError
	require.True(t, stderrors.As(err, &fe))
	assert.True(t, fe.Temporary)
	assert.True(t, fe.IsRateLimited())
	assert.Equal(t, 3*time.Second, fe.RetryAfter)

	// bad token is permanent
	bad := testRESTSource(t, server.URL, "wrong")
	_, err = bad.FetchPage(context.Background(), FeedOrders, testWindow(), "")
	require.True(t, stderrors.As(err, &fe))
	assert.Equal(t, http.StatusUnauthorized, fe.StatusCode)
	assert.False(t, fe.Temporary)
}

func TestFetcherOverREST(t *testing.T) {
	var hits int32
	server := fakePlatform(t, &hits)
	defer server.Close()

	s := &recordingSleeper{}
	policy := testPolicy(s)
	f := NewFetcher(testRESTSource(t, server.URL, testToken), policy, logger.Discard())

	res, err := f.Fetch(context.Background(), testWindow())
	require.NoError(t, err)
	assert.False(t, res.Partial())
	assert.Len(t, res.Orders, 3)
	assert.Len(t, res.Transactions, 1)
	assert.Equal(t, []time.Duration{3 * time.Second}, s.delays)
	assert.Equal(t, int64(2), res.Stats[FeedOrders].Pages)
}

func TestRESTConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultRESTConfig("https://shop.example.com/admin/api/2024-01", "tok").Validate())
	assert.Error(t, DefaultRESTConfig("", "tok").Validate())
	assert.Error(t, DefaultRESTConfig("https://shop.example.com", "").Validate())

	cfg := DefaultRESTConfig("https://shop.example.com", "tok")
	delete(cfg.Endpoints, FeedTransactions)
	assert.Error(t, cfg.Validate())
}

func TestNextLink(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{"none", nil, ""},
		{"next only", []string{`<https://x/orders.json?page_info=a>; rel="next"`}, "https://x/orders.json?page_info=a"},
		{"previous and next", []string{`<https://x/p>; rel="previous", <https://x/n>; rel="next"`}, "https://x/n"},
		{"previous only", []string{`<https://x/p>; rel="previous"`}, ""},
		{"unquoted", []string{`<https://x/n>; rel=next`}, "https://x/n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextLink(tt.headers))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 7, 29, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
}
