package cleanup

import (
	"context"
	"log/slog"
	"study-agent-backend/model"
)

// SessionStore 清理任务需要的会话存储能力
type SessionStore interface {
	SessionActivities(ctx context.Context) ([]model.SessionActivity, error)
	DeleteSessionData(ctx context.Context, sessionID string) error
}

// Service 会话清理任务：删除既无用户消息又无Agent回复的废弃会话。
// 收藏的会话无条件保留。
type Service struct {
	store SessionStore
}

func NewService(store SessionStore) *Service {
	return &Service{store: store}
}

// CleanupInactiveSessions 扫描全部会话并删除不活跃的，返回删除数量。
// 单个会话删除失败只记录日志，不中断扫描。
func (s *Service) CleanupInactiveSessions(ctx context.Context) (int, error) {
	activities, err := s.store.SessionActivities(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for i := range activities {
		activity := &activities[i]
		if activity.Starred || activity.Active() {
			continue
		}

		if err := s.store.DeleteSessionData(ctx, activity.SessionID); err != nil {
			slog.Error("Failed to delete inactive session",
				"session_id", activity.SessionID,
				"err", err,
			)
			continue
		}

		deleted++
		slog.Info("Deleted inactive session",
			"session_id", activity.SessionID,
			"user_messages", activity.UserMessages,
			"agent_messages", activity.AgentMessages,
		)
	}

	return deleted, nil
}
