package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound 请求范围内没有数据
var ErrNotFound = errors.New("market data not found")

// 数据集名称
const (
	DatasetRaw      = "raw"
	DatasetDaily    = "daily"
	DatasetHourly   = "hourly"
	DatasetCombined = "combined"
)

// NotFoundError 指明标的与数据集的 404 错误
type NotFoundError struct {
	Ticker  string
	Dataset string
}

func (e *NotFoundError) Error() string {
	if e.Dataset == DatasetCombined {
		return "No combined market data available"
	}
	return fmt.Sprintf("No %s market data available for %s", e.Dataset, e.Ticker)
}

// Is 使 errors.Is(err, ErrNotFound) 成立
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StorageError 存储层连接或查询失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UpstreamError 上游行情源请求失败，StatusCode 为 0 表示网络层错误
type UpstreamError struct {
	Ticker     string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d: %s", e.Ticker, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream %s: %v", e.Ticker, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// CacheError 缓存操作失败，只在日志中出现
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
