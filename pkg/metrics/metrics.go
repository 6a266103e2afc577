// Package metrics 行情服务的 Prometheus 指标
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/investlink/pkg/logger"
)

// Metrics 指标集合，nil 接收者上的记录方法为空操作
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 缓存命中/未命中/异常，按数据集区分
	CacheLookupsTotal *prometheus.CounterVec

	// 后台刷新：按标的与结果计数
	RefreshTickerTotal *prometheus.CounterVec
	// 后台刷新：单轮耗时
	RefreshCycleDuration prometheus.Histogram
	// 写入的 K 线条数
	BarsIngestedTotal prometheus.Counter

	// 上游请求耗时
	UpstreamDuration prometheus.Histogram
	// 上游请求失败
	UpstreamErrorsTotal *prometheus.CounterVec

	// 数据库查询耗时，按操作区分
	DBQueryDuration *prometheus.HistogramVec
}

// New 创建指标实例并注册到独立 Registry
func New(serviceName string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investlink",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "investlink",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		CacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investlink",
			Subsystem: serviceName,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by dataset and result",
		}, []string{"dataset", "result"}),
		RefreshTickerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investlink",
			Subsystem: serviceName,
			Name:      "refresh_ticker_total",
			Help:      "Scheduler per-ticker refresh outcomes",
		}, []string{"ticker", "result"}),
		RefreshCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "investlink",
			Subsystem: serviceName,
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Duration of one refresh pass over all tickers",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120},
		}),
		BarsIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "investlink",
			Subsystem: serviceName,
			Name:      "bars_ingested_total",
			Help:      "Bars written to the time-series store",
		}),
		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "investlink",
			Subsystem: serviceName,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream provider request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		UpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investlink",
			Subsystem: serviceName,
			Name:      "upstream_errors_total",
			Help:      "Upstream provider failures by kind",
		}, []string{"kind"}),
		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "investlink",
			Subsystem: serviceName,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CacheLookupsTotal,
		m.RefreshTickerTotal,
		m.RefreshCycleDuration,
		m.BarsIngestedTotal,
		m.UpstreamDuration,
		m.UpstreamErrorsTotal,
		m.DBQueryDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer 创建 Prometheus HTTP 服务，由调用方负责启动与关闭
func (m *Metrics) NewServer(port int, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Prometheus HTTP server configured", "addr", addr, "path", path)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordCacheLookup 记录缓存查找，result 取值 hit/miss/error
func (m *Metrics) RecordCacheLookup(dataset, result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(dataset, result).Inc()
}

// RecordTickerRefresh 记录单个标的刷新结果
func (m *Metrics) RecordTickerRefresh(ticker string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RefreshTickerTotal.WithLabelValues(ticker, result).Inc()
}

// RecordRefreshCycle 记录一轮刷新耗时
func (m *Metrics) RecordRefreshCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshCycleDuration.Observe(d.Seconds())
}

// AddBarsIngested 累加写入条数
func (m *Metrics) AddBarsIngested(n int) {
	if m == nil {
		return
	}
	m.BarsIngestedTotal.Add(float64(n))
}

// RecordUpstream 记录上游请求，kind 为空表示成功
func (m *Metrics) RecordUpstream(d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.UpstreamDuration.Observe(d.Seconds())
	if kind != "" {
		m.UpstreamErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// RecordDBQuery 记录数据库操作耗时
func (m *Metrics) RecordDBQuery(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(op).Observe(d.Seconds())
}
