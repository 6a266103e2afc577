package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/investlink/internal/marketdata/domain"
	"github.com/wyfcoding/investlink/pkg/metrics"
)

// 入库模式
const (
	IngestAppend  = "append"
	IngestReplace = "replace"
)

// SchedulerOptions 后台刷新配置
type SchedulerOptions struct {
	Tickers      []string
	Interval     time.Duration
	RetryBackoff time.Duration
	SnapshotTTL  time.Duration
	IngestMode   string
	Topic        string
}

// RefreshScheduler 按固定间隔逐个标的拉取最近一天的小时线并入库，
// 对热门标的刷新 market_data:{ticker} 快照
type RefreshScheduler struct {
	repo      domain.BarRepository
	fetcher   domain.BarFetcher
	cache     domain.Cache
	publisher domain.EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      SchedulerOptions

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewRefreshScheduler(
	repo domain.BarRepository,
	fetcher domain.BarFetcher,
	cache domain.Cache,
	publisher domain.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	opts SchedulerOptions,
) *RefreshScheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Minute
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = DefaultSnapshotRefreshTTL
	}
	if opts.IngestMode == "" {
		opts.IngestMode = IngestAppend
	}
	if opts.Topic == "" {
		opts.Topic = domain.BarsIngestedEventType
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshScheduler{
		repo:      repo,
		fetcher:   fetcher,
		cache:     cache,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}
}

// Start 阻塞运行，正常一轮后等待 Interval，整轮异常后等待 RetryBackoff。
// 生产环境传入 context.Background()，进程退出即终止
func (s *RefreshScheduler) Start(ctx context.Context) {
	s.logger.Info("market data refresh scheduler started",
		"interval", s.opts.Interval, "tickers", s.opts.Tickers, "ingest_mode", s.opts.IngestMode)

	for {
		wait := s.opts.Interval
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("refresh iteration failed", "error", err, "backoff", s.opts.RetryBackoff)
			wait = s.opts.RetryBackoff
		}
		if !s.sleep(ctx, wait) {
			s.logger.Info("market data refresh scheduler stopped")
			return
		}
	}
}

// RunOnce 顺序处理所有标的，单个标的失败只记录日志
func (s *RefreshScheduler) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh iteration panicked: %v", r)
		}
	}()

	started := time.Now()
	defer func() { s.metrics.RecordRefreshCycle(time.Since(started)) }()

	to := s.now()
	from := to.AddDate(0, 0, -1)

	for _, ticker := range s.opts.Tickers {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.refreshTickerSafe(ctx, ticker, from, to)
		s.metrics.RecordTickerRefresh(ticker, err)
		if err != nil {
			s.logger.Error("failed to refresh market data", "ticker", ticker, "error", err)
			continue
		}
		s.logger.Info("market data fetched and stored", "ticker", ticker, "bars", n)
	}
	return nil
}

func (s *RefreshScheduler) refreshTickerSafe(ctx context.Context, ticker string, from, to time.Time) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.refreshTicker(ctx, ticker, from, to)
}

func (s *RefreshScheduler) refreshTicker(ctx context.Context, ticker string, from, to time.Time) (int, error) {
	raw, err := s.fetcher.FetchBars(ctx, ticker, 1, domain.GranularityHour, from, to)
	if err != nil {
		return 0, fmt.Errorf("fetch bars: %w", err)
	}

	bars := make([]*domain.Bar, 0, len(raw))
	for _, p := range raw {
		bars = append(bars, p.ToBar(ticker))
	}

	if len(bars) > 0 {
		if err := s.store(ctx, ticker, bars); err != nil {
			return 0, fmt.Errorf("store bars: %w", err)
		}
		s.metrics.AddBarsIngested(len(bars))
		s.publishIngested(ctx, ticker, bars)
	}

	if err := s.refreshSnapshot(ctx, ticker); err != nil {
		return len(bars), fmt.Errorf("refresh snapshot: %w", err)
	}
	return len(bars), nil
}

// store append 模式不做去重；replace 模式按本批时间范围覆盖
func (s *RefreshScheduler) store(ctx context.Context, ticker string, bars []*domain.Bar) error {
	if s.opts.IngestMode != IngestReplace {
		return s.repo.InsertBulk(ctx, bars)
	}
	lo, hi := bars[0].Timestamp, bars[0].Timestamp
	for _, b := range bars[1:] {
		if b.Timestamp.Before(lo) {
			lo = b.Timestamp
		}
		if b.Timestamp.After(hi) {
			hi = b.Timestamp
		}
	}
	return s.repo.ReplaceRange(ctx, ticker, lo, hi, bars)
}

func (s *RefreshScheduler) refreshSnapshot(ctx context.Context, ticker string) error {
	frequent, err := s.cache.Exists(ctx, FrequentKey(ticker))
	if err != nil {
		s.logger.Warn("cache unavailable, skipping snapshot refresh", "ticker", ticker, "error", err)
		return nil
	}
	if !frequent {
		return nil
	}

	latest, err := s.repo.QueryLatest(ctx, ticker)
	if err != nil {
		return err
	}
	if latest == nil {
		return nil
	}

	data, err := json.Marshal(toBarDTO(latest))
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, SnapshotKey(ticker), string(data), s.opts.SnapshotTTL); err != nil {
		s.logger.Warn("failed to write snapshot", "ticker", ticker, "error", err)
	}
	return nil
}

func (s *RefreshScheduler) publishIngested(ctx context.Context, ticker string, bars []*domain.Bar) {
	if s.publisher == nil {
		return
	}
	event := domain.BarsIngestedEvent{
		Ticker:    ticker,
		Count:     len(bars),
		From:      bars[0].Timestamp,
		To:        bars[len(bars)-1].Timestamp,
		Mode:      s.opts.IngestMode,
		Timestamp: s.now(),
	}
	if err := s.publisher.Publish(ctx, s.opts.Topic, ticker, event); err != nil {
		s.logger.Warn("failed to publish ingest event", "ticker", ticker, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
