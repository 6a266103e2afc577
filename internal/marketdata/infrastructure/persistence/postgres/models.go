package postgres

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/investlink/internal/marketdata/domain"
)

// BarModel market_data 表映射
// TimescaleDB hypertable 要求主键包含分区列，因此主键为 (id, timestamp)
type BarModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Ticker     string    `gorm:"column:ticker;type:varchar(10);not null;index:idx_market_data_ticker_timestamp,priority:1"`
	Timestamp  time.Time `gorm:"column:timestamp;type:timestamptz;primaryKey;autoIncrement:false;not null;index:idx_market_data_ticker_timestamp,priority:2"`
	OpenPrice  float64   `gorm:"column:open_price;type:double precision;not null"`
	HighPrice  float64   `gorm:"column:high_price;type:double precision;not null"`
	LowPrice   float64   `gorm:"column:low_price;type:double precision;not null"`
	ClosePrice float64   `gorm:"column:close_price;type:double precision;not null"`
	Volume     int64     `gorm:"column:volume;type:bigint;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null"`
}

func (BarModel) TableName() string { return "market_data" }

// aggregateRow 聚合查询结果，sum(bigint) 在 Postgres 中为 numeric
type aggregateRow struct {
	Bucket     time.Time
	OpenPrice  float64
	HighPrice  float64
	LowPrice   float64
	ClosePrice float64
	Volume     decimal.Decimal
}

func toBarModel(b *domain.Bar) *BarModel {
	return &BarModel{
		ID:         b.ID,
		Ticker:     b.Ticker,
		Timestamp:  b.Timestamp.UTC(),
		OpenPrice:  b.Open,
		HighPrice:  b.High,
		LowPrice:   b.Low,
		ClosePrice: b.Close,
		Volume:     b.Volume,
		CreatedAt:  b.CreatedAt,
	}
}

func toBar(m *BarModel) *domain.Bar {
	return &domain.Bar{
		ID:        m.ID,
		Ticker:    m.Ticker,
		Timestamp: m.Timestamp.UTC(),
		Open:      m.OpenPrice,
		High:      m.HighPrice,
		Low:       m.LowPrice,
		Close:     m.ClosePrice,
		Volume:    m.Volume,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func toBucket(r aggregateRow) domain.AggregateBucket {
	return domain.AggregateBucket{
		BucketStart: r.Bucket.UTC(),
		Open:        r.OpenPrice,
		High:        r.HighPrice,
		Low:         r.LowPrice,
		Close:       r.ClosePrice,
		Volume:      r.Volume.IntPart(),
	}
}
