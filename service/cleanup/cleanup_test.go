package cleanup

import (
	"context"
	"errors"
	"study-agent-backend/model"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSessionStore struct {
	activities []model.SessionActivity
	listErr    error

	deleteErrs map[string]error
	deleted    []string
}

func (s *fakeSessionStore) SessionActivities(ctx context.Context) ([]model.SessionActivity, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.activities, nil
}

func (s *fakeSessionStore) DeleteSessionData(ctx context.Context, sessionID string) error {
	if err := s.deleteErrs[sessionID]; err != nil {
		return err
	}
	s.deleted = append(s.deleted, sessionID)
	return nil
}

func TestCleanupDeletesOnlyInactiveSessions(t *testing.T) {
	store := &fakeSessionStore{
		activities: []model.SessionActivity{
			// 完整对话，保留
			{SessionID: "active", UserMessages: 2, AgentMessages: 2},
			// 空会话，删除
			{SessionID: "empty"},
			// 只有用户消息，没有回复，删除
			{SessionID: "user-only", UserMessages: 1},
			// 只有Agent消息，删除
			{SessionID: "agent-only", AgentMessages: 1},
		},
	}

	deleted, err := NewService(store).CleanupInactiveSessions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, deleted)
	require.ElementsMatch(t, []string{"empty", "user-only", "agent-only"}, store.deleted)
}

func TestCleanupKeepsStarredSessions(t *testing.T) {
	store := &fakeSessionStore{
		activities: []model.SessionActivity{
			{SessionID: "starred-empty", Starred: true},
			{SessionID: "empty"},
		},
	}

	deleted, err := NewService(store).CleanupInactiveSessions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Equal(t, []string{"empty"}, store.deleted)
}

func TestCleanupContinuesAfterDeleteError(t *testing.T) {
	store := &fakeSessionStore{
		activities: []model.SessionActivity{
			{SessionID: "broken"},
			{SessionID: "empty"},
		},
		deleteErrs: map[string]error{"broken": errors.New("db gone")},
	}

	deleted, err := NewService(store).CleanupInactiveSessions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.Equal(t, []string{"empty"}, store.deleted)
}

func TestCleanupReturnsListError(t *testing.T) {
	store := &fakeSessionStore{listErr: errors.New("db gone")}

	deleted, err := NewService(store).CleanupInactiveSessions(context.Background())
	require.Error(t, err)
	require.Zero(t, deleted)
}
