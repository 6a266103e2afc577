// Package polygon Polygon 聚合 K 线接口客户端：单次请求、固定超时、不重试
package polygon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/investlink/internal/marketdata/domain"
	"github.com/wyfcoding/investlink/pkg/config"
	"github.com/wyfcoding/investlink/pkg/metrics"
	"golang.org/x/time/rate"
)

const aggregatesPath = "/v2/aggs/ticker/{ticker}/range/{multiplier}/{timespan}/{from}/{to}"

// aggregatesResponse 无数据时 results 字段缺失
type aggregatesResponse struct {
	Ticker       string               `json:"ticker"`
	Status       string               `json:"status"`
	ResultsCount int                  `json:"resultsCount"`
	Results      []domain.ProviderBar `json:"results"`
}

// Client 实现 domain.BarFetcher
type Client struct {
	http    *resty.Client
	apiKey  string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
}

// NewClient 创建客户端；requests_per_minute 为 0 时不做节流
func NewClient(cfg config.PolygonConfig, m *metrics.Metrics) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(time.Duration(cfg.Timeout) * time.Second).
			SetRetryCount(0).
			SetHeader("Accept", "application/json"),
		apiKey:  cfg.APIKey,
		metrics: m,
	}

	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	failures := uint32(cfg.BreakerFailures)
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "polygon",
		Timeout: time.Duration(cfg.BreakerOpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: isBreakerSuccess,
	})

	return c
}

// FetchBars 拉取 [from, to] 日期范围内的聚合 K 线，原样返回 results
func (c *Client) FetchBars(ctx context.Context, ticker string, multiplier int, g domain.Granularity, from, to time.Time) ([]domain.ProviderBar, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &domain.UpstreamError{Ticker: ticker, Err: err}
		}
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, ticker, multiplier, g, from, to)
	})
	c.metrics.RecordUpstream(time.Since(start), errorKind(err))

	if err != nil {
		var upErr *domain.UpstreamError
		if errors.As(err, &upErr) {
			return nil, upErr
		}
		return nil, &domain.UpstreamError{Ticker: ticker, Err: err}
	}
	return out.([]domain.ProviderBar), nil
}

func (c *Client) do(ctx context.Context, ticker string, multiplier int, g domain.Granularity, from, to time.Time) ([]domain.ProviderBar, error) {
	var result aggregatesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"ticker":     ticker,
			"multiplier": strconv.Itoa(multiplier),
			"timespan":   string(g),
			"from":       from.Format(time.DateOnly),
			"to":         to.Format(time.DateOnly),
		}).
		SetQueryParam("apiKey", c.apiKey).
		SetResult(&result).
		Get(aggregatesPath)
	if err != nil {
		return nil, &domain.UpstreamError{Ticker: ticker, Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &domain.UpstreamError{
			Ticker:     ticker,
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode()),
		}
	}

	if result.Results == nil {
		return []domain.ProviderBar{}, nil
	}
	return result.Results, nil
}

// 客户端错误（除 429）不计入熔断
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode >= 400 && upErr.StatusCode < 500 {
		return upErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "breaker_open"
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode != 0 {
		return "status_" + strconv.Itoa(upErr.StatusCode)
	}
	return "network"
}
