package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "milestone-tracker/contracts/mq"
	"milestone-tracker/internal/model"
	"milestone-tracker/pkg/logger"
	"milestone-tracker/pkg/trace"
	"milestone-tracker/pkg/util"
)

const handlerName = "activity"

type activityWriter interface {
	Insert(ctx context.Context, a *model.ProjectActivity) (bool, error)
}

type dashboardInvalidator interface {
	InvalidateDashboard(ctx context.Context) error
}

type deduplicator interface {
	AcquireOnce(ctx context.Context, handler, key string) bool
	Release(ctx context.Context, handler, key string)
}

type retryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type deadLetterPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError, failedAt string) error
}

// ActivityHandler 把工作流事件写成 project_activity 审计记录，并让仪表盘缓存失效
type ActivityHandler struct {
	activity   activityWriter
	dashboard  dashboardInvalidator
	deduper    deduplicator
	retries    retryCounter
	dlq        deadLetterPublisher
	maxRetries int64
	logger     *zap.Logger
}

func NewActivityHandler(
	activity activityWriter,
	dashboard dashboardInvalidator,
	deduper deduplicator,
	retries retryCounter,
	dlq deadLetterPublisher,
	maxRetries int64,
	logger *zap.Logger,
) *ActivityHandler {
	return &ActivityHandler{
		activity:   activity,
		dashboard:  dashboard,
		deduper:    deduper,
		retries:    retries,
		dlq:        dlq,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Handle 返回 nil 表示 ack，返回 error 表示 nack 并重新入队
func (h *ActivityHandler) Handle(ctx context.Context, routingKey string, data json.RawMessage) error {
	a, traceID, err := decodeActivity(routingKey, data)
	if err != nil {
		h.logger.Error("Invalid workflow event payload, sending to DLQ",
			zap.String("routing_key", routingKey),
			zap.String("raw", string(data)),
			zap.Error(err),
		)
		h.deadLetter(routingKey, data, err)
		return nil
	}
	if a == nil {
		h.logger.Warn("Ignoring unknown routing key", zap.String("routing_key", routingKey))
		return nil
	}

	if traceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("routing_key", routingKey),
		zap.Int("project_id", a.ProjectID),
	)

	if !h.deduper.AcquireOnce(ctx, handlerName, a.DedupKey) {
		return nil
	}

	retryKey := util.FormatRetryKey(handlerName, a.DedupKey)
	inserted, err := h.activity.Insert(ctx, a)
	if err != nil {
		return h.handleError(ctx, log, routingKey, data, retryKey, a.DedupKey, err)
	}
	if err := h.retries.Reset(ctx, retryKey); err != nil {
		log.Debug("Failed to reset retry counter", zap.Error(err))
	}

	if !inserted {
		log.Info("Activity already recorded, skip")
		return nil
	}

	if err := h.dashboard.InvalidateDashboard(ctx); err != nil {
		log.Warn("Failed to invalidate dashboard cache", zap.Error(err))
	}

	log.Info("Project activity recorded", zap.String("event_type", a.EventType))
	return nil
}

func (h *ActivityHandler) handleError(ctx context.Context, log *zap.Logger, routingKey string, data []byte, retryKey, dedupKey string, err error) error {
	// 失败的消息要能被重投，所以先释放去重标记
	h.deduper.Release(ctx, handlerName, dedupKey)

	retryable, errType := util.IsRetryableError(err)
	count, cerr := h.retries.IncrementAndGet(ctx, retryKey)
	if cerr != nil {
		log.Warn("Failed to increment retry counter", zap.Error(cerr))
	}

	log.Warn("Failed to record project activity",
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int64("retry", count),
		zap.Error(err),
	)

	if util.ShouldRetry(count, h.maxRetries, retryable) {
		return err
	}

	h.deadLetter(routingKey, data, err)
	if err := h.retries.Reset(ctx, retryKey); err != nil {
		log.Debug("Failed to reset retry counter", zap.Error(err))
	}
	return nil
}

func (h *ActivityHandler) deadLetter(routingKey string, data []byte, cause error) {
	if err := h.dlq.PublishToDLQ(routingKey, data, cause.Error(), time.Now().UTC().Format(time.RFC3339)); err != nil {
		h.logger.Error("Failed to publish to DLQ", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

// decodeActivity 根据 routing key 解析事件。未知 routing key 返回 nil。
func decodeActivity(routingKey string, data []byte) (*model.ProjectActivity, string, error) {
	switch routingKey {
	case mqcontracts.RoutingMilestoneAdvanced:
		var p mqcontracts.MilestoneAdvancedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, "", err
		}
		if p.ProjectID <= 0 || p.ProjectMilestoneID <= 0 {
			return nil, "", fmt.Errorf("milestone.advanced payload missing ids")
		}
		milestoneID := p.MilestoneID
		msg := fmt.Sprintf("Milestone %q started", p.MilestoneName)
		if p.Terminal {
			msg = fmt.Sprintf("Milestone %q reached, project finished", p.MilestoneName)
		}
		return &model.ProjectActivity{
			ProjectID:   p.ProjectID,
			EventType:   routingKey,
			MilestoneID: &milestoneID,
			Message:     msg,
			DedupKey:    fmt.Sprintf("%s:%d", routingKey, p.ProjectMilestoneID),
			OccurredAt:  p.OccurredAt,
		}, p.TraceID, nil

	case mqcontracts.RoutingDependencyAttached, mqcontracts.RoutingDependencyCleared:
		// attached 和 cleared 的 payload 结构相同
		var p mqcontracts.DependencyAttachedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, "", err
		}
		if p.ProjectID <= 0 || p.DependencyID <= 0 {
			return nil, "", fmt.Errorf("%s payload missing ids", routingKey)
		}
		dependencyID := p.DependencyID
		verb := "attached"
		if routingKey == mqcontracts.RoutingDependencyCleared {
			verb = "cleared"
		}
		return &model.ProjectActivity{
			ProjectID:    p.ProjectID,
			EventType:    routingKey,
			DependencyID: &dependencyID,
			Message:      fmt.Sprintf("Dependency %d %s", p.DependencyID, verb),
			DedupKey:     fmt.Sprintf("%s:%d:%d", routingKey, p.ProjectID, p.DependencyID),
			OccurredAt:   p.OccurredAt,
		}, p.TraceID, nil
	}
	return nil, "", nil
}
