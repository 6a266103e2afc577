package postgres

import (
	"context"
	"fmt"

	"github.com/wyfcoding/investlink/pkg/db"
	"github.com/wyfcoding/investlink/pkg/logger"
)

// Migrate 建表；timescale 为 true 时启用扩展并把 market_data 转为按天分块的 hypertable
func Migrate(ctx context.Context, database *db.DB, timescale bool) error {
	conn := database.WithContext(ctx)

	if timescale {
		if err := conn.Exec("CREATE EXTENSION IF NOT EXISTS timescaledb").Error; err != nil {
			return fmt.Errorf("failed to enable timescaledb: %w", err)
		}
	}

	if err := conn.AutoMigrate(&BarModel{}); err != nil {
		return fmt.Errorf("failed to migrate market_data: %w", err)
	}

	if timescale {
		err := conn.Exec(`SELECT create_hypertable('market_data', 'timestamp',
	chunk_time_interval => INTERVAL '1 day', if_not_exists => TRUE, migrate_data => TRUE)`).Error
		if err != nil {
			return fmt.Errorf("failed to create hypertable: %w", err)
		}
	}

	logger.Info(ctx, "market_data schema ready", "timescale", timescale)
	return nil
}
