package application

import (
	"time"

	"github.com/wyfcoding/investlink/internal/marketdata/domain"
)

// 缓存 key 约定
const (
	snapshotKeyPrefix = "market_data:"
	dailyKeyPrefix    = "market_data_daily:"
	hourlyKeyPrefix   = "market_data_hourly:"
	frequentKeyPrefix = "frequent_ticker:"
)

// TTL 默认值
const (
	DefaultCacheTTL           = time.Hour
	DefaultFrequentTTL        = time.Hour
	DefaultSnapshotRefreshTTL = 5 * time.Minute
)

// SnapshotKey 最新快照
func SnapshotKey(ticker string) string { return snapshotKeyPrefix + ticker }

// FrequentKey 热门标的标记
func FrequentKey(ticker string) string { return frequentKeyPrefix + ticker }

// AggregateKey 聚合结果
func AggregateKey(ticker string, g domain.Granularity) string {
	if g == domain.GranularityDay {
		return dailyKeyPrefix + ticker
	}
	return hourlyKeyPrefix + ticker
}
