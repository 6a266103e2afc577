// Package domain 行情领域模型：K 线、聚合桶、仓储与缓存接口
package domain

import (
	"strings"
	"time"
)

// Bar 单根 K 线（OHLCV），时间统一为 UTC
type Bar struct {
	ID        int64
	Ticker    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	CreatedAt time.Time
}

// NewBar 创建 K 线
func NewBar(ticker string, ts time.Time, o, h, l, c float64, v int64) *Bar {
	return &Bar{
		Ticker:    NormalizeTicker(ticker),
		Timestamp: ts.UTC(),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
	}
}

// NormalizeTicker 统一为大写并去除空白
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// Granularity 聚合粒度
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// Interval 粒度对应的 Postgres interval 字面量
func (g Granularity) Interval() string {
	if g == GranularityDay {
		return "1 day"
	}
	return "1 hour"
}

// Dataset 数据集名称，用于 404 文案与指标标签
func (g Granularity) Dataset() string {
	if g == GranularityDay {
		return DatasetDaily
	}
	return DatasetHourly
}

// AggregateBucket 时间桶聚合结果
// Open 为桶内时间最早一根的开盘价，Close 为最晚一根的收盘价
type AggregateBucket struct {
	BucketStart time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      int64
}
