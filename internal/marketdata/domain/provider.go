package domain

import (
	"math"
	"time"
)

// ProviderBar 上游聚合接口返回的原始记录
type ProviderBar struct {
	// 毫秒时间戳
	T  int64   `json:"t"`
	O  float64 `json:"o"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	C  float64 `json:"c"`
	V  float64 `json:"v"`
	VW float64 `json:"vw,omitempty"`
	N  int64   `json:"n,omitempty"`
}

// ToBar 映射为 K 线：毫秒时间戳转 UTC，成交量四舍五入为整数
func (p ProviderBar) ToBar(ticker string) *Bar {
	return NewBar(ticker, time.UnixMilli(p.T), p.O, p.H, p.L, p.C, int64(math.Round(p.V)))
}
