package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError_Messages(t *testing.T) {
	tests := []struct {
		err  *NotFoundError
		want string
	}{
		{&NotFoundError{Ticker: "UNKNOWN", Dataset: DatasetRaw}, "No raw market data available for UNKNOWN"},
		{&NotFoundError{Ticker: "AAPL", Dataset: DatasetDaily}, "No daily market data available for AAPL"},
		{&NotFoundError{Ticker: "AAPL", Dataset: DatasetHourly}, "No hourly market data available for AAPL"},
		{&NotFoundError{Dataset: DatasetCombined}, "No combined market data available"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
		assert.ErrorIs(t, fmt.Errorf("wrapped: %w", tt.err), ErrNotFound)
	}
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	assert.ErrorIs(t, &StorageError{Op: "query_range", Err: cause}, cause)
	assert.ErrorIs(t, &CacheError{Op: "get", Key: "market_data:AAPL", Err: cause}, cause)

	up := &UpstreamError{Ticker: "AAPL", StatusCode: 429, Body: "rate limited"}
	assert.Equal(t, "upstream AAPL: status 429: rate limited", up.Error())

	var target *UpstreamError
	assert.True(t, errors.As(fmt.Errorf("refresh: %w", up), &target))
	assert.Equal(t, 429, target.StatusCode)
}

func TestProviderBar_ToBar(t *testing.T) {
	p := ProviderBar{T: 1710928800000, O: 150, H: 155, L: 148, C: 153, V: 1000000.6}

	bar := p.ToBar(" aapl ")

	assert.Equal(t, "AAPL", bar.Ticker)
	assert.Equal(t, time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC), bar.Timestamp)
	assert.Equal(t, time.UTC, bar.Timestamp.Location())
	assert.Equal(t, 150.0, bar.Open)
	assert.Equal(t, 153.0, bar.Close)
	assert.Equal(t, int64(1000001), bar.Volume)
}

func TestGranularity(t *testing.T) {
	assert.Equal(t, "1 hour", GranularityHour.Interval())
	assert.Equal(t, "1 day", GranularityDay.Interval())
	assert.Equal(t, DatasetHourly, GranularityHour.Dataset())
	assert.Equal(t, DatasetDaily, GranularityDay.Dataset())
}
