// Package postgres 基于 GORM 的 K 线时序存储，聚合依赖 TimescaleDB time_bucket 或 date_trunc
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wyfcoding/investlink/internal/marketdata/domain"
	"github.com/wyfcoding/investlink/pkg/db"
	"github.com/wyfcoding/investlink/pkg/metrics"
	"gorm.io/gorm"
)

const insertBatchSize = 500

type barRepository struct {
	db        *db.DB
	timescale bool
	metrics   *metrics.Metrics
}

// NewBarRepository 创建 K 线仓储；timescale 为 false 时用 date_trunc 分桶
func NewBarRepository(database *db.DB, timescale bool, m *metrics.Metrics) domain.BarRepository {
	return &barRepository{db: database, timescale: timescale, metrics: m}
}

func (r *barRepository) observe(op string) func() {
	start := time.Now()
	return func() { r.metrics.RecordDBQuery(op, time.Since(start)) }
}

func (r *barRepository) Insert(ctx context.Context, bar *domain.Bar) error {
	defer r.observe("insert")()

	model := toBarModel(bar)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return &domain.StorageError{Op: "insert", Err: err}
	}
	bar.ID = model.ID
	bar.CreatedAt = model.CreatedAt
	return nil
}

func (r *barRepository) InsertBulk(ctx context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	defer r.observe("insert_bulk")()

	models := toBarModels(bars)
	if err := r.db.BatchInsert(ctx, &models, insertBatchSize); err != nil {
		return &domain.StorageError{Op: "insert_bulk", Err: err}
	}
	backfill(bars, models)
	return nil
}

func (r *barRepository) ReplaceRange(ctx context.Context, ticker string, from, to time.Time, bars []*domain.Bar) error {
	defer r.observe("replace_range")()

	models := toBarModels(bars)
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("ticker = ? AND timestamp BETWEEN ? AND ?", ticker, from.UTC(), to.UTC()).
			Delete(&BarModel{}).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}
		return tx.CreateInBatches(&models, insertBatchSize).Error
	})
	if err != nil {
		return &domain.StorageError{Op: "replace_range", Err: err}
	}
	backfill(bars, models)
	return nil
}

func (r *barRepository) QueryRange(ctx context.Context, ticker string, start, end *time.Time, limit int) ([]*domain.Bar, error) {
	defer r.observe("query_range")()

	q := r.db.WithContext(ctx).Where("ticker = ?", ticker)
	if start != nil {
		q = q.Where("timestamp >= ?", start.UTC())
	}
	if end != nil {
		q = q.Where("timestamp <= ?", end.UTC())
	}

	var models []*BarModel
	if err := q.Order("timestamp DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, &domain.StorageError{Op: "query_range", Err: err}
	}

	bars := make([]*domain.Bar, len(models))
	for i, m := range models {
		bars[i] = toBar(m)
	}
	return bars, nil
}

func (r *barRepository) QueryLatest(ctx context.Context, ticker string) (*domain.Bar, error) {
	defer r.observe("query_latest")()

	var models []*BarModel
	err := r.db.WithContext(ctx).
		Where("ticker = ?", ticker).
		Order("timestamp DESC, id DESC").
		Limit(1).
		Find(&models).Error
	if err != nil {
		return nil, &domain.StorageError{Op: "query_latest", Err: err}
	}
	if len(models) == 0 {
		return nil, nil
	}
	return toBar(models[0]), nil
}

// Aggregate open 取桶内最早一行，close 取最晚一行；时间戳相同时按 id（写入顺序）决定
func (r *barRepository) Aggregate(ctx context.Context, ticker string, g domain.Granularity, start, end *time.Time) ([]domain.AggregateBucket, error) {
	defer r.observe("aggregate_" + string(g))()

	query, args := r.aggregateSQL(ticker, g, start, end)

	var rows []aggregateRow
	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, &domain.StorageError{Op: "aggregate", Err: err}
	}

	buckets := make([]domain.AggregateBucket, len(rows))
	for i, row := range rows {
		buckets[i] = toBucket(row)
	}
	return buckets, nil
}

func (r *barRepository) bucketExpr(g domain.Granularity) string {
	if r.timescale {
		return fmt.Sprintf("time_bucket(INTERVAL '%s', timestamp)", g.Interval())
	}
	return fmt.Sprintf("date_trunc('%s', timestamp AT TIME ZONE 'UTC') AT TIME ZONE 'UTC'", g)
}

func (r *barRepository) aggregateSQL(ticker string, g domain.Granularity, start, end *time.Time) (string, []any) {
	var sb strings.Builder
	args := []any{ticker}

	fmt.Fprintf(&sb, `SELECT %s AS bucket,
	(array_agg(open_price ORDER BY timestamp ASC, id ASC))[1] AS open_price,
	max(high_price) AS high_price,
	min(low_price) AS low_price,
	(array_agg(close_price ORDER BY timestamp DESC, id DESC))[1] AS close_price,
	sum(volume) AS volume
FROM market_data
WHERE ticker = ?`, r.bucketExpr(g))

	if start != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, start.UTC())
	}
	if end != nil {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, end.UTC())
	}
	sb.WriteString("\nGROUP BY bucket\nORDER BY bucket DESC")

	return sb.String(), args
}

func toBarModels(bars []*domain.Bar) []*BarModel {
	models := make([]*BarModel, len(bars))
	for i, b := range bars {
		models[i] = toBarModel(b)
	}
	return models
}

func backfill(bars []*domain.Bar, models []*BarModel) {
	for i, m := range models {
		bars[i].ID = m.ID
		bars[i].CreatedAt = m.CreatedAt
	}
}
