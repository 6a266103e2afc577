package application

import (
	"time"

	"github.com/wyfcoding/investlink/internal/marketdata/domain"
)

// BarDTO 单根 K 线的响应结构，也是 market_data:{ticker} 快照的缓存格式
type BarDTO struct {
	Ticker     string    `json:"ticker"`
	Timestamp  time.Time `json:"timestamp"`
	OpenPrice  float64   `json:"open_price"`
	HighPrice  float64   `json:"high_price"`
	LowPrice   float64   `json:"low_price"`
	ClosePrice float64   `json:"close_price"`
	Volume     int64     `json:"volume"`
}

// AggregateDTO 聚合桶的响应结构；日线使用 date，小时线使用 hour
type AggregateDTO struct {
	Ticker     string     `json:"ticker"`
	Date       *time.Time `json:"date,omitempty"`
	Hour       *time.Time `json:"hour,omitempty"`
	OpenPrice  float64    `json:"open_price"`
	HighPrice  float64    `json:"high_price"`
	LowPrice   float64    `json:"low_price"`
	ClosePrice float64    `json:"close_price"`
	Volume     int64      `json:"volume"`
}

// RawBarsResult 原始数据查询结果
// 命中缓存时只有 Snapshot（最新一根，不受过滤条件影响），否则为 Bars
type RawBarsResult struct {
	Snapshot *BarDTO
	Bars     []BarDTO
	Cached   bool
}

// Data 返回响应 data 字段的内容
func (r *RawBarsResult) Data() any {
	if r.Snapshot != nil {
		return r.Snapshot
	}
	return r.Bars
}

func toBarDTO(b *domain.Bar) BarDTO {
	return BarDTO{
		Ticker:     b.Ticker,
		Timestamp:  b.Timestamp.UTC(),
		OpenPrice:  b.Open,
		HighPrice:  b.High,
		LowPrice:   b.Low,
		ClosePrice: b.Close,
		Volume:     b.Volume,
	}
}

func toBarDTOs(bars []*domain.Bar) []BarDTO {
	out := make([]BarDTO, len(bars))
	for i, b := range bars {
		out[i] = toBarDTO(b)
	}
	return out
}

func toAggregateDTOs(ticker string, g domain.Granularity, buckets []domain.AggregateBucket) []AggregateDTO {
	out := make([]AggregateDTO, len(buckets))
	for i, b := range buckets {
		start := b.BucketStart.UTC()
		dto := AggregateDTO{
			Ticker:     ticker,
			OpenPrice:  b.Open,
			HighPrice:  b.High,
			LowPrice:   b.Low,
			ClosePrice: b.Close,
			Volume:     b.Volume,
		}
		if g == domain.GranularityDay {
			dto.Date = &start
		} else {
			dto.Hour = &start
		}
		out[i] = dto
	}
	return out
}
