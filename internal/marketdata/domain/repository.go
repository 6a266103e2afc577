package domain

import (
	"context"
	"time"
)

// BarRepository K 线时序存储
type BarRepository interface {
	// Insert 追加一根 K 线，回填 ID 与 CreatedAt
	Insert(ctx context.Context, bar *Bar) error
	// InsertBulk 批量追加，不做去重
	InsertBulk(ctx context.Context, bars []*Bar) error
	// ReplaceRange 在一个事务内删除 [from, to] 内该标的的行后写入 bars
	ReplaceRange(ctx context.Context, ticker string, from, to time.Time, bars []*Bar) error
	// QueryRange 按时间倒序返回 [start, end] 内的 K 线，边界为 nil 时不限制
	QueryRange(ctx context.Context, ticker string, start, end *time.Time, limit int) ([]*Bar, error)
	// QueryLatest 最新一根，不存在时返回 nil, nil
	QueryLatest(ctx context.Context, ticker string) (*Bar, error)
	// Aggregate 按粒度分桶，桶起点倒序
	Aggregate(ctx context.Context, ticker string, g Granularity, start, end *time.Time) ([]AggregateBucket, error)
}

// Cache 带 TTL 的字符串缓存
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// BarFetcher 上游 K 线拉取，单次请求，不重试
type BarFetcher interface {
	FetchBars(ctx context.Context, ticker string, multiplier int, g Granularity, from, to time.Time) ([]ProviderBar, error)
}

// EventPublisher 领域事件发布
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}
