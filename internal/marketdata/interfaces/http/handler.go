// Package http 行情查询 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/investlink/internal/marketdata/application"
	"github.com/wyfcoding/investlink/internal/marketdata/domain"
	"github.com/wyfcoding/investlink/pkg/logger"
)

// 无时区的时间按 UTC 解析
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

type rangeQuery struct {
	StartTime string `form:"start_time"`
	EndTime   string `form:"end_time"`
}

type rawQuery struct {
	rangeQuery
	Limit *int `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type MarketDataHandler struct {
	query   *application.MarketDataQueryService
	tickers []string
}

// NewMarketDataHandler tickers 为 GET /market 汇总的标的池
func NewMarketDataHandler(query *application.MarketDataQueryService, tickers []string) *MarketDataHandler {
	return &MarketDataHandler{query: query, tickers: tickers}
}

func (h *MarketDataHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/market", h.GetAllMarketData)
	r.GET("/market/:ticker", h.GetMarketData)
	r.GET("/market/:ticker/daily", h.GetDailyMarketData)
	r.GET("/market/:ticker/hourly", h.GetHourlyMarketData)
}

// GetMarketData 原始 K 线
func (h *MarketDataHandler) GetMarketData(c *gin.Context) {
	var q rawQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 1000"})
		return
	}
	start, end, ok := parseRange(c, q.rangeQuery)
	if !ok {
		return
	}
	limit := application.DefaultLimit
	if q.Limit != nil {
		limit = *q.Limit
	}

	res, err := h.query.GetRawBars(c.Request.Context(), domain.NormalizeTicker(c.Param("ticker")), start, end, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res.Data()})
}

// GetDailyMarketData 日线聚合
func (h *MarketDataHandler) GetDailyMarketData(c *gin.Context) {
	h.getAggregates(c, domain.GranularityDay)
}

// GetHourlyMarketData 小时线聚合
func (h *MarketDataHandler) GetHourlyMarketData(c *gin.Context) {
	h.getAggregates(c, domain.GranularityHour)
}

func (h *MarketDataHandler) getAggregates(c *gin.Context, g domain.Granularity) {
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, end, ok := parseRange(c, q)
	if !ok {
		return
	}

	dtos, err := h.query.GetAggregates(c.Request.Context(), domain.NormalizeTicker(c.Param("ticker")), g, start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dtos})
}

// GetAllMarketData 标的池内每个标的的最新一根
func (h *MarketDataHandler) GetAllMarketData(c *gin.Context) {
	snapshots, err := h.query.GetLatestForTickers(c.Request.Context(), h.tickers)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snapshots})
}

func parseRange(c *gin.Context, q rangeQuery) (start, end *time.Time, ok bool) {
	var err error
	if start, err = parseTime(q.StartTime); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_time: " + q.StartTime})
		return nil, nil, false
	}
	if end, err = parseTime(q.EndTime); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_time: " + q.EndTime})
		return nil, nil, false
	}
	return start, end, true
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			t = t.UTC()
			return &t, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func writeError(c *gin.Context, err error) {
	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		return
	}
	logger.Error(c.Request.Context(), "market data request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
