package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// IsRetryableError 判断消费端错误是否值得重试，返回 (是否重试, 错误类型)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// 数据格式错误 - 不可重试
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			// 唯一约束冲突：已经处理过，幂等
			return false, "duplicate_key"
		case pgErr.Code == "23503":
			// 外键不存在：项目已被删除
			return false, "foreign_key_violation"
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return true, "serialization_failure"
		case strings.HasPrefix(pgErr.Code, "08"):
			return true, "db_connection_error"
		case strings.HasPrefix(pgErr.Code, "53"):
			return true, "db_resources"
		default:
			return false, "db_error"
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	if pgconn.SafeToRetry(err) {
		return true, "db_connection_error"
	}

	// 未知错误，保守处理 - 不重试
	return false, "unknown_error"
}

// ShouldRetry checks if an error should be retried based on retry count
func ShouldRetry(retryCount int64, maxRetries int64, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount <= maxRetries
}
