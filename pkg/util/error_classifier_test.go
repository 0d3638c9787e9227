package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error
	{
		var v map[string]any
		syntaxErr = json.Unmarshal([]byte("{"), &v)
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"bad json", syntaxErr, false, "json_decode_error"},
		{"no rows", fmt.Errorf("load project: %w", pgx.ErrNoRows), false, "not_found"},
		{"unique", &pgconn.PgError{Code: "23505"}, false, "duplicate_key"},
		{"fk", &pgconn.PgError{Code: "23503"}, false, "foreign_key_violation"},
		{"serialization", &pgconn.PgError{Code: "40001"}, true, "serialization_failure"},
		{"admin shutdown class", &pgconn.PgError{Code: "08006"}, true, "db_connection_error"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"other", errors.New("boom"), false, "unknown_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, kind := IsRetryableError(tt.err)
			assert.Equal(t, tt.retryable, retryable)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(1, 3, true))
	assert.True(t, ShouldRetry(3, 3, true))
	assert.False(t, ShouldRetry(4, 3, true))
	assert.False(t, ShouldRetry(1, 3, false))
}
