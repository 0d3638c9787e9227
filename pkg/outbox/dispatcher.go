package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"milestone-tracker/pkg/circuitbreaker"
	"milestone-tracker/pkg/metrics"
	"milestone-tracker/pkg/trace"
)

// Publisher is the broker side of the dispatcher; *mq.Publisher satisfies it.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Store is the outbox table as seen by the dispatcher.
type Store interface {
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	store      Store
	publisher  Publisher
	breaker    *circuitbreaker.Breaker
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
	lease      time.Duration
}

func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	breaker := circuitbreaker.New("outbox-publisher", circuitbreaker.DefaultConfig()).
		OnStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})

	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		breaker:    breaker,
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
		lease:      30 * time.Second,
	}
}

func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	d.batchSize = batchSize
	return d
}

func (d *Dispatcher) WithBreaker(b *circuitbreaker.Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// Start 阻塞运行直到 ctx 取消
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return nil
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce publishes one batch and returns how many events were sent.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	if d.breaker.State() == circuitbreaker.StateOpen {
		return 0
	}

	events, err := d.store.ClaimPending(ctx, d.batchSize, d.lease)
	if err != nil {
		d.logger.Error("Failed to claim pending events", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	d.logger.Debug("Processing pending events", zap.Int("count", len(events)))

	sent := 0
	for _, event := range events {
		log := d.logger.With(
			zap.Int64("event_id", event.ID),
			zap.String("routing_key", event.RoutingKey),
		)

		err := d.breaker.Execute(func() error {
			return d.publisher.PublishWithContext(withPayloadTrace(ctx, event.Payload), event.RoutingKey, event.Payload)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			// 没有真正发送，不计重试；剩下的等租约到期后重新领取
			log.Warn("Circuit breaker open, deferring remaining events")
			break
		}
		if err != nil {
			metrics.RecordOutboxPublish(event.RoutingKey, "failed")
			log.Error("Failed to publish event", zap.Error(err))
			if markErr := d.store.MarkAsFailed(ctx, event.ID, d.maxRetries); markErr != nil {
				log.Error("Failed to mark event as failed", zap.Error(markErr))
			}
			continue
		}

		metrics.RecordOutboxPublish(event.RoutingKey, "sent")
		if err := d.store.MarkAsSent(ctx, event.ID); err != nil {
			log.Error("Failed to mark event as sent", zap.Error(err))
			continue
		}
		sent++
		log.Debug("Event published successfully")
	}
	return sent
}

// withPayloadTrace 把 payload 里的 trace_id 放回 context，消费端日志可以接上请求链路
func withPayloadTrace(ctx context.Context, payload json.RawMessage) context.Context {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.TraceID == "" {
		return ctx
	}
	return trace.WithContext(ctx, envelope.TraceID)
}
