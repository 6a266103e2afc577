package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wyfcoding/investlink/internal/marketdata/domain"
	"github.com/wyfcoding/investlink/pkg/logger"
	"github.com/wyfcoding/investlink/pkg/metrics"
)

// 查询条数范围
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ClampLimit 把条数限制在 [1, MaxLimit]，非正数使用 DefaultLimit
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// QueryOptions 查询服务的 TTL 配置，零值使用默认
type QueryOptions struct {
	CacheTTL    time.Duration
	FrequentTTL time.Duration
}

// MarketDataQueryService 行情读路径：先查缓存，未命中回源存储
// 缓存异常一律视为未命中
type MarketDataQueryService struct {
	repo        domain.BarRepository
	cache       domain.Cache
	metrics     *metrics.Metrics
	cacheTTL    time.Duration
	frequentTTL time.Duration
}

// NewMarketDataQueryService 构造函数。
func NewMarketDataQueryService(repo domain.BarRepository, cache domain.Cache, m *metrics.Metrics, opts QueryOptions) *MarketDataQueryService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.FrequentTTL <= 0 {
		opts.FrequentTTL = DefaultFrequentTTL
	}
	return &MarketDataQueryService{
		repo:        repo,
		cache:       cache,
		metrics:     m,
		cacheTTL:    opts.CacheTTL,
		frequentTTL: opts.FrequentTTL,
	}
}

// GetRawBars 原始 K 线。命中 market_data:{ticker} 时返回快照并标记热门，
// 快照不受 start/end/limit 约束；未命中时查询存储且不回填缓存
func (s *MarketDataQueryService) GetRawBars(ctx context.Context, ticker string, start, end *time.Time, limit int) (*RawBarsResult, error) {
	key := SnapshotKey(ticker)

	var snap BarDTO
	if s.getJSON(ctx, domain.DatasetRaw, key, &snap) {
		if err := s.cache.Set(ctx, FrequentKey(ticker), "1", s.frequentTTL); err != nil {
			s.cacheWarn(ctx, &domain.CacheError{Op: "set", Key: FrequentKey(ticker), Err: err})
		}
		return &RawBarsResult{Snapshot: &snap, Cached: true}, nil
	}

	bars, err := s.repo.QueryRange(ctx, ticker, start, end, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, &domain.NotFoundError{Ticker: ticker, Dataset: domain.DatasetRaw}
	}
	return &RawBarsResult{Bars: toBarDTOs(bars)}, nil
}

// GetAggregates 小时/日线聚合。未命中时计算并以 JSON 写入缓存，返回未经序列化的结果
func (s *MarketDataQueryService) GetAggregates(ctx context.Context, ticker string, g domain.Granularity, start, end *time.Time) ([]AggregateDTO, error) {
	key := AggregateKey(ticker, g)

	var cached []AggregateDTO
	if s.getJSON(ctx, g.Dataset(), key, &cached) {
		return cached, nil
	}

	buckets, err := s.repo.Aggregate(ctx, ticker, g, start, end)
	if err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, &domain.NotFoundError{Ticker: ticker, Dataset: g.Dataset()}
	}

	result := toAggregateDTOs(ticker, g, buckets)
	s.setJSON(ctx, key, result, s.cacheTTL)
	return result, nil
}

// GetLatestForTickers 每个标的取快照，未命中时查最新一根；全部为空才返回 NotFound
func (s *MarketDataQueryService) GetLatestForTickers(ctx context.Context, tickers []string) (map[string]BarDTO, error) {
	result := make(map[string]BarDTO, len(tickers))

	for _, ticker := range tickers {
		var snap BarDTO
		if s.getJSON(ctx, domain.DatasetCombined, SnapshotKey(ticker), &snap) {
			result[ticker] = snap
			continue
		}

		bar, err := s.repo.QueryLatest(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if bar != nil {
			result[ticker] = toBarDTO(bar)
		}
	}

	if len(result) == 0 {
		return nil, &domain.NotFoundError{Dataset: domain.DatasetCombined}
	}
	return result, nil
}

// getJSON 读取并解析缓存，任何失败都按未命中处理
func (s *MarketDataQueryService) getJSON(ctx context.Context, dataset, key string, dest any) bool {
	raw, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.RecordCacheLookup(dataset, "error")
		s.cacheWarn(ctx, &domain.CacheError{Op: "get", Key: key, Err: err})
		return false
	}
	if !found {
		s.metrics.RecordCacheLookup(dataset, "miss")
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		s.metrics.RecordCacheLookup(dataset, "error")
		s.cacheWarn(ctx, &domain.CacheError{Op: "decode", Key: key, Err: err})
		return false
	}
	s.metrics.RecordCacheLookup(dataset, "hit")
	return true
}

func (s *MarketDataQueryService) setJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.cacheWarn(ctx, &domain.CacheError{Op: "encode", Key: key, Err: err})
		return
	}
	if err := s.cache.Set(ctx, key, string(data), ttl); err != nil {
		s.cacheWarn(ctx, &domain.CacheError{Op: "set", Key: key, Err: err})
	}
}

func (s *MarketDataQueryService) cacheWarn(ctx context.Context, err *domain.CacheError) {
	logger.Warn(ctx, "cache unavailable, falling back to store", "op", err.Op, "key", err.Key, "error", err.Err)
}
