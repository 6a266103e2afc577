package domain

import "time"

const BarsIngestedEventType = "marketdata.bars.ingested"

// BarsIngestedEvent 一次刷新写入完成
type BarsIngestedEvent struct {
	Ticker    string    `json:"ticker"`
	Count     int       `json:"count"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}
