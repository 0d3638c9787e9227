package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var ErrEventNotFound = errors.New("outbox event not found")

// Event 表示一个待发布的事件
type Event struct {
	ID            int64           `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   *int64          `json:"aggregate_id"`
	RoutingKey    string          `json:"routing_key"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	RetryCount    int             `json:"retry_count"`
	NextRetryAt   *time.Time      `json:"next_retry_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

const eventColumns = `id, aggregate_type, aggregate_id, routing_key, payload, status,
		       retry_count, next_retry_at, created_at, updated_at`

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// InsertEventInTx 序列化 payload 并在调用方的事务里写入 outbox，
// 事件与业务数据一起提交或一起回滚。
func InsertEventInTx(ctx context.Context, tx pgx.Tx, aggregateType string, aggregateID int64, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, status)
		VALUES ($1, $2, $3, $4, $5)
	`, aggregateType, aggregateID, routingKey, body, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// ClaimPending 领取一批到期的 pending 事件，并把 next_retry_at 推后一个租约，
// 多个 dispatcher 实例不会同时拿到同一行。发送结果由 MarkAsSent/MarkAsFailed 覆盖租约。
func (r *Repository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*Event, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE outbox_events
		SET next_retry_at = NOW() + $2 * INTERVAL '1 millisecond', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'pending'
			AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns, limit, lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending events: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING 不保证顺序
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (r *Repository) MarkAsSent(ctx context.Context, eventID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkAsFailed 增加重试次数；达到上限后置为 failed，否则按次数线性退避。
func (r *Repository) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    next_retry_at = CASE WHEN retry_count + 1 >= $2 THEN NULL
		                         ELSE NOW() + (retry_count + 1) * INTERVAL '5 seconds' END,
		    updated_at = NOW()
		WHERE id = $1
	`, eventID, maxRetries)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

func (r *Repository) GetEventByID(ctx context.Context, eventID int64) (*Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return events[0], nil
}

// ResetToPending 把事件重新交给 dispatcher
func (r *Repository) ResetToPending(ctx context.Context, eventID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to replay event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (r *Repository) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+`
		FROM outbox_events
		WHERE status = 'failed'
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*Event, error) {
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&e.RoutingKey,
			&e.Payload,
			&e.Status,
			&e.RetryCount,
			&e.NextRetryAt,
			&e.CreatedAt,
			&e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
