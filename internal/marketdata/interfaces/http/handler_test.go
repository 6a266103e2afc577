package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/investlink/internal/marketdata/application"
	"github.com/wyfcoding/investlink/internal/marketdata/domain"
	"github.com/wyfcoding/investlink/pkg/cache"
)

// sliceRepo 只支持查询的内存存储
type sliceRepo struct {
	mu   sync.Mutex
	bars []*domain.Bar
	err  error
}

func (r *sliceRepo) Insert(_ context.Context, bar *domain.Bar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bar.ID = int64(len(r.bars) + 1)
	r.bars = append(r.bars, bar)
	return nil
}

func (r *sliceRepo) InsertBulk(ctx context.Context, bars []*domain.Bar) error {
	for _, b := range bars {
		_ = r.Insert(ctx, b)
	}
	return nil
}

func (r *sliceRepo) ReplaceRange(context.Context, string, time.Time, time.Time, []*domain.Bar) error {
	return errors.New("not supported")
}

func (r *sliceRepo) sorted(ticker string, start, end *time.Time) []*domain.Bar {
	var out []*domain.Bar
	for _, b := range r.bars {
		if b.Ticker != ticker || (start != nil && b.Timestamp.Before(*start)) || (end != nil && b.Timestamp.After(*end)) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (r *sliceRepo) QueryRange(_ context.Context, ticker string, start, end *time.Time, limit int) ([]*domain.Bar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, &domain.StorageError{Op: "query_range", Err: r.err}
	}
	out := r.sorted(ticker, start, end)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *sliceRepo) QueryLatest(_ context.Context, ticker string) (*domain.Bar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(ticker, nil, nil)
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *sliceRepo) Aggregate(_ context.Context, ticker string, g domain.Granularity, start, end *time.Time) ([]domain.AggregateBucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AggregateBucket
	for _, b := range r.sorted(ticker, start, end) {
		key := b.Timestamp.Truncate(time.Hour)
		if g == domain.GranularityDay {
			key = time.Date(b.Timestamp.Year(), b.Timestamp.Month(), b.Timestamp.Day(), 0, 0, 0, 0, time.UTC)
		}
		n := len(out)
		if n == 0 || !out[n-1].BucketStart.Equal(key) {
			out = append(out, domain.AggregateBucket{BucketStart: key, Close: b.Close, High: b.High, Low: b.Low})
			n++
		}
		bk := &out[n-1]
		bk.Open = b.Open
		bk.High = max(bk.High, b.High)
		bk.Low = min(bk.Low, b.Low)
		bk.Volume += b.Volume
	}
	return out, nil
}

type testEnv struct {
	router *gin.Engine
	repo   *sliceRepo
	mr     *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &sliceRepo{}
	svc := application.NewMarketDataQueryService(repo, cache.NewFromClient(client), nil, application.QueryOptions{})

	r := gin.New()
	NewMarketDataHandler(svc, []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META"}).RegisterRoutes(r.Group("/api"))

	return &testEnv{router: r, repo: repo, mr: mr}
}

func (e *testEnv) get(t *testing.T, url string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

var barTime = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

func TestGetMarketData_AAPLScenario(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.repo.Insert(context.Background(), domain.NewBar("AAPL", barTime, 150, 155, 148, 153, 1_000_000)))

	rec, body := env.get(t, "/api/market/AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	first := data[0].(map[string]any)
	assert.Equal(t, "AAPL", first["ticker"])
	assert.Equal(t, "2024-03-20T10:00:00Z", first["timestamp"])
	assert.Equal(t, 153.0, first["close_price"])

	rec, body = env.get(t, "/api/market/AAPL/daily")
	require.Equal(t, http.StatusOK, rec.Code)
	buckets := body["data"].([]any)
	require.Len(t, buckets, 1)
	assert.Equal(t, map[string]any{
		"ticker":      "AAPL",
		"date":        "2024-03-20T00:00:00Z",
		"open_price":  150.0,
		"high_price":  155.0,
		"low_price":   148.0,
		"close_price": 153.0,
		"volume":      1_000_000.0,
	}, buckets[0])
}

func TestGetMarketData_UnknownTicker(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.get(t, "/api/market/UNKNOWN")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No raw market data available for UNKNOWN", body["error"])
}

func TestGetMarketData_LowercaseTickerNormalized(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.repo.Insert(context.Background(), domain.NewBar("AAPL", barTime, 1, 1, 1, 1, 1)))

	rec, _ := env.get(t, "/api/market/aapl")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetMarketData_CachedSnapshotIgnoresFilters(t *testing.T) {
	env := newTestEnv(t)
	snap := `{"ticker":"AAPL","timestamp":"2024-03-20T10:00:00Z","open_price":150,"high_price":155,"low_price":148,"close_price":153,"volume":1000000}`
	require.NoError(t, env.mr.Set("market_data:AAPL", snap))

	rec, body := env.get(t, "/api/market/AAPL?start_time=2020-01-01T00:00:00&limit=5")

	require.Equal(t, http.StatusOK, rec.Code)
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "cached response is a single snapshot object")
	assert.Equal(t, "AAPL", data["ticker"])
	assert.True(t, env.mr.Exists("frequent_ticker:AAPL"))
}

func TestGetMarketData_QueryValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []string{
		"/api/market/AAPL?limit=0",
		"/api/market/AAPL?limit=1001",
		"/api/market/AAPL?limit=abc",
		"/api/market/AAPL?start_time=yesterday",
		"/api/market/AAPL/daily?end_time=2024-13-01",
	}
	for _, url := range tests {
		t.Run(url, func(t *testing.T) {
			rec, body := env.get(t, url)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetMarketData_TimeFilters(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 48; i++ {
		require.NoError(t, env.repo.Insert(context.Background(),
			domain.NewBar("AAPL", barTime.Add(time.Duration(i)*time.Hour), 1, 1, 1, 1, 1)))
	}

	rec, body := env.get(t, "/api/market/AAPL?start_time=2024-03-21&end_time=2024-03-21T05:00:00Z&limit=1000")

	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].([]any)
	assert.Len(t, data, 6)
	assert.Equal(t, "2024-03-21T05:00:00Z", data[0].(map[string]any)["timestamp"])
}

func TestGetHourly_TwentyFourBuckets(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 24; i++ {
		require.NoError(t, env.repo.Insert(context.Background(),
			domain.NewBar("AAPL", barTime.Add(time.Duration(i)*time.Hour), 1, 2, 0.5, 1.5, 10)))
	}

	rec, body := env.get(t, "/api/market/AAPL/hourly")
	require.Equal(t, http.StatusOK, rec.Code)
	hourly := body["data"].([]any)
	assert.Len(t, hourly, 24)
	assert.Contains(t, hourly[0], "hour")
	assert.NotContains(t, hourly[0], "date")

	// 10:00 开始的 24 根跨越 UTC 日界
	rec, body = env.get(t, "/api/market/AAPL/daily")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]any), 2)
	assert.True(t, env.mr.Exists("market_data_hourly:AAPL"))
	assert.True(t, env.mr.Exists("market_data_daily:AAPL"))
}

func TestGetDaily_NotFoundNamesDataset(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.get(t, "/api/market/TSLA/daily")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No daily market data available for TSLA", body["error"])
}

func TestGetAllMarketData(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.get(t, "/api/market")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No combined market data available", body["error"])

	require.NoError(t, env.repo.Insert(context.Background(), domain.NewBar("MSFT", barTime, 400, 401, 399, 400.5, 10)))

	rec, body = env.get(t, "/api/market")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Len(t, data, 1)
	assert.Equal(t, 400.5, data["MSFT"].(map[string]any)["close_price"])
}

func TestGetMarketData_StorageErrorIs500(t *testing.T) {
	env := newTestEnv(t)
	env.repo.err = errors.New("connection refused")

	rec, body := env.get(t, "/api/market/AAPL")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["error"])
}
