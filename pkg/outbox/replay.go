package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 给管理员重放发送失败的事件。重放只把状态改回 pending，
// 真正的发送仍由 Dispatcher 完成，避免两条发送路径。
type ReplayService struct {
	repo   *Repository
	logger *zap.Logger
}

func NewReplayService(repo *Repository, logger *zap.Logger) *ReplayService {
	return &ReplayService{repo: repo, logger: logger}
}

func (s *ReplayService) ListFailed(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.GetFailedEvents(ctx, limit)
}

func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	if err := s.repo.ResetToPending(ctx, eventID); err != nil {
		return err
	}
	s.logger.Info("Outbox event queued for replay", zap.Int64("event_id", eventID))
	return nil
}

// ReplayFailedEvents 重放一批失败事件，返回成功重置的数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.ListFailed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	count := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Error("Failed to replay event", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}
