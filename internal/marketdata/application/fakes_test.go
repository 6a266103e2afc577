package application

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/investlink/internal/marketdata/domain"
	"github.com/wyfcoding/investlink/pkg/cache"
)

// memRepo 内存版时序存储，聚合语义与 SQL 实现一致
type memRepo struct {
	mu     sync.Mutex
	bars   []*domain.Bar
	nextID int64
	err    error
	calls  map[string]int
	ranges [][2]time.Time
	limits []int
}

func newMemRepo() *memRepo {
	return &memRepo{calls: map[string]int{}}
}

func (r *memRepo) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

func (r *memRepo) rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bars)
}

func (r *memRepo) Insert(_ context.Context, bar *domain.Bar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["insert"]++
	if r.err != nil {
		return &domain.StorageError{Op: "insert", Err: r.err}
	}
	r.add(bar)
	return nil
}

func (r *memRepo) add(bar *domain.Bar) {
	r.nextID++
	bar.ID = r.nextID
	bar.CreatedAt = time.Now().UTC()
	cp := *bar
	r.bars = append(r.bars, &cp)
}

func (r *memRepo) InsertBulk(_ context.Context, bars []*domain.Bar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["insert_bulk"]++
	if r.err != nil {
		return &domain.StorageError{Op: "insert_bulk", Err: r.err}
	}
	for _, b := range bars {
		r.add(b)
	}
	return nil
}

func (r *memRepo) ReplaceRange(_ context.Context, ticker string, from, to time.Time, bars []*domain.Bar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["replace_range"]++
	r.ranges = append(r.ranges, [2]time.Time{from, to})
	if r.err != nil {
		return &domain.StorageError{Op: "replace_range", Err: r.err}
	}
	kept := r.bars[:0]
	for _, b := range r.bars {
		if b.Ticker == ticker && !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			continue
		}
		kept = append(kept, b)
	}
	r.bars = kept
	for _, b := range bars {
		r.add(b)
	}
	return nil
}

func (r *memRepo) matching(ticker string, start, end *time.Time) []*domain.Bar {
	var out []*domain.Bar
	for _, b := range r.bars {
		if b.Ticker != ticker {
			continue
		}
		if start != nil && b.Timestamp.Before(*start) {
			continue
		}
		if end != nil && b.Timestamp.After(*end) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (r *memRepo) QueryRange(_ context.Context, ticker string, start, end *time.Time, limit int) ([]*domain.Bar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["query_range"]++
	r.limits = append(r.limits, limit)
	if r.err != nil {
		return nil, &domain.StorageError{Op: "query_range", Err: r.err}
	}
	out := r.matching(ticker, start, end)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) QueryLatest(_ context.Context, ticker string) (*domain.Bar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["query_latest"]++
	if r.err != nil {
		return nil, &domain.StorageError{Op: "query_latest", Err: r.err}
	}
	out := r.matching(ticker, nil, nil)
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *memRepo) Aggregate(_ context.Context, ticker string, g domain.Granularity, start, end *time.Time) ([]domain.AggregateBucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["aggregate"]++
	if r.err != nil {
		return nil, &domain.StorageError{Op: "aggregate", Err: r.err}
	}

	// matching 已按 (timestamp, id) 倒序：首个为 close，末个为 open
	index := map[time.Time]*domain.AggregateBucket{}
	var order []time.Time
	for _, b := range r.matching(ticker, start, end) {
		ts := b.Timestamp.UTC()
		key := ts.Truncate(time.Hour)
		if g == domain.GranularityDay {
			key = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		}
		bk, ok := index[key]
		if !ok {
			bk = &domain.AggregateBucket{BucketStart: key, Close: b.Close, High: b.High, Low: b.Low}
			index[key] = bk
			order = append(order, key)
		}
		bk.Open = b.Open
		if b.High > bk.High {
			bk.High = b.High
		}
		if b.Low < bk.Low {
			bk.Low = b.Low
		}
		bk.Volume += b.Volume
	}

	out := make([]domain.AggregateBucket, 0, len(order))
	for _, k := range order {
		out = append(out, *index[k])
	}
	return out, nil
}

// stubFetcher 按标的返回预设结果
type stubFetcher struct {
	mu      sync.Mutex
	results map[string][]domain.ProviderBar
	errs    map[string]error
	panics  map[string]bool
	called  []string
}

func (f *stubFetcher) FetchBars(_ context.Context, ticker string, _ int, _ domain.Granularity, _, _ time.Time) ([]domain.ProviderBar, error) {
	f.mu.Lock()
	f.called = append(f.called, ticker)
	f.mu.Unlock()
	if f.panics[ticker] {
		panic("provider decode failure")
	}
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	return f.results[ticker], nil
}

type recordedEvent struct {
	topic, key string
	event      any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *capturePublisher) Publish(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{topic, key, event})
	return nil
}

func newRedisCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewFromClient(client), mr
}

func hourlyProviderBars(start time.Time, n int) []domain.ProviderBar {
	out := make([]domain.ProviderBar, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		out[i] = domain.ProviderBar{T: ts.UnixMilli(), O: 100 + float64(i), H: 101 + float64(i), L: 99 + float64(i), C: 100.5 + float64(i), V: 1000}
	}
	return out
}
