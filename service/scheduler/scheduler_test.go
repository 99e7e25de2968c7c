package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"study-agent-backend/model"
	"study-agent-backend/service/knowledge-base/chunker"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeFileStore 内存实现，状态转移与数据库实现同语义
type fakeFileStore struct {
	mu    sync.Mutex
	files map[uint]*model.FileMetadata

	pendingErr error
	staleErr   error
}

func newFakeFileStore(files ...*model.FileMetadata) *fakeFileStore {
	s := &fakeFileStore{files: make(map[uint]*model.FileMetadata)}
	for _, f := range files {
		s.files[f.ID] = f
	}
	return s
}

func (s *fakeFileStore) PendingFiles(ctx context.Context, limit int) ([]model.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	var out []model.FileMetadata
	for _, f := range s.files {
		if f.ProcessingStatus == model.StatusPending {
			out = append(out, *f)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeFileStore) StaleProcessingFiles(ctx context.Context, cutoff time.Time) ([]model.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleErr != nil {
		return nil, s.staleErr
	}
	var out []model.FileMetadata
	for _, f := range s.files {
		if f.ProcessingStatus == model.StatusProcessing && f.UpdatedAt.Before(cutoff) {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *fakeFileStore) FailedFiles(ctx context.Context, limit int) ([]model.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FileMetadata
	for _, f := range s.files {
		if f.ProcessingStatus == model.StatusFailed {
			out = append(out, *f)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeFileStore) Transition(ctx context.Context, fileID uint, from, to model.ProcessingStatus, patch map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok || f.ProcessingStatus != from {
		return false, nil
	}
	merged, err := model.MergeMetadata(f.Metadata, patch)
	if err != nil {
		return false, err
	}
	f.ProcessingStatus = to
	f.Metadata = merged
	f.UpdatedAt = time.Now()
	return true, nil
}

func (s *fakeFileStore) get(id uint) model.FileMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.files[id]
}

// fakeProcessor 按文件ID返回预设结果，并在存储上执行与真实处理器相同的状态转移
type fakeProcessor struct {
	store   *fakeFileStore
	failIDs map[uint]bool

	mu        sync.Mutex
	processed []uint
	block     chan struct{}
}

func (p *fakeProcessor) ProcessFile(ctx context.Context, file *model.FileMetadata) (*model.ProcessResult, error) {
	claimed, err := p.store.Transition(ctx, file.ID, model.StatusPending, model.StatusProcessing, map[string]any{
		model.MetaLastAttemptAt: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, chunker.ErrAlreadyClaimed
	}

	if p.block != nil {
		<-p.block
	}

	p.mu.Lock()
	p.processed = append(p.processed, file.ID)
	p.mu.Unlock()

	if p.failIDs[file.ID] {
		cause := errors.New("boom")
		p.store.Transition(ctx, file.ID, model.StatusProcessing, model.StatusFailed, map[string]any{
			model.MetaError:        cause.Error(),
			model.MetaFailedAt:     time.Now().Format(time.RFC3339),
			model.MetaRetryAttempt: file.RetryAttempt() + 1,
		})
		return nil, cause
	}

	p.store.Transition(ctx, file.ID, model.StatusProcessing, model.StatusCompleted, map[string]any{
		model.MetaProcessedAt: time.Now().Format(time.RFC3339),
	})
	return &model.ProcessResult{ChunksCreated: 1}, nil
}

type fakeCleaner struct {
	deleted int
	err     error
	calls   int
}

func (c *fakeCleaner) CleanupInactiveSessions(ctx context.Context) (int, error) {
	c.calls++
	return c.deleted, c.err
}

func pendingFile(id uint) *model.FileMetadata {
	return &model.FileMetadata{
		ID:               id,
		ObjectName:       "user@example.com/doc.md",
		FileType:         model.FileTypeMarkdown,
		ProcessingStatus: model.StatusPending,
		UpdatedAt:        time.Now(),
	}
}

func TestRunCycleRecoversStaleFiles(t *testing.T) {
	stuck := &model.FileMetadata{
		ID:               1,
		ProcessingStatus: model.StatusProcessing,
		UpdatedAt:        time.Now().Add(-10 * time.Minute),
	}
	fresh := &model.FileMetadata{
		ID:               2,
		ProcessingStatus: model.StatusProcessing,
		UpdatedAt:        time.Now(),
	}
	store := newFakeFileStore(stuck, fresh)
	proc := &fakeProcessor{store: store}
	cleaner := &fakeCleaner{}

	s := New(store, proc, cleaner, Options{StaleThreshold: 5 * time.Minute})
	summary := s.RunCycle(context.Background())

	require.Equal(t, 1, summary.StaleReset)
	require.Equal(t, model.StatusProcessing, store.get(2).ProcessingStatus)

	// 被重置的文件在同一周期内被重新处理
	require.Equal(t, 1, summary.Attempted)
	recovered := store.get(1)
	require.Equal(t, model.StatusCompleted, recovered.ProcessingStatus)

	meta := recovered.DecodeMetadata()
	require.Contains(t, meta, model.MetaResetFromProcessingAt)
	require.Contains(t, meta, model.MetaPreviousAttemptAt)
}

func TestRunCycleRespectsBatchSize(t *testing.T) {
	var files []*model.FileMetadata
	for i := uint(1); i <= 7; i++ {
		files = append(files, pendingFile(i))
	}
	store := newFakeFileStore(files...)
	proc := &fakeProcessor{store: store}

	s := New(store, proc, &fakeCleaner{}, Options{BatchSize: 3})
	summary := s.RunCycle(context.Background())

	require.Equal(t, 3, summary.Attempted)
	require.Len(t, proc.processed, 3)
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	store := newFakeFileStore(pendingFile(1), pendingFile(2), pendingFile(3))
	proc := &fakeProcessor{store: store, failIDs: map[uint]bool{2: true}}
	cleaner := &fakeCleaner{deleted: 2}

	s := New(store, proc, cleaner, Options{})
	summary := s.RunCycle(context.Background())

	require.Equal(t, 3, summary.Attempted)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 2, summary.SessionsDeleted)

	failed := store.get(2)
	require.Equal(t, model.StatusFailed, failed.ProcessingStatus)
	meta := failed.DecodeMetadata()
	require.Equal(t, "boom", meta[model.MetaError])
	require.Contains(t, meta, model.MetaFailedAt)
	require.Equal(t, float64(1), meta[model.MetaRetryAttempt])
}

func TestRunCycleAbortsOnStaleQueryError(t *testing.T) {
	store := newFakeFileStore(pendingFile(1))
	store.staleErr = errors.New("db gone")
	proc := &fakeProcessor{store: store}
	cleaner := &fakeCleaner{}

	s := New(store, proc, cleaner, Options{})
	summary := s.RunCycle(context.Background())

	require.Zero(t, summary.Attempted)
	require.Zero(t, cleaner.calls)
}

func TestRunCycleCleanerErrorDoesNotAbort(t *testing.T) {
	store := newFakeFileStore(pendingFile(1))
	proc := &fakeProcessor{store: store}
	cleaner := &fakeCleaner{err: errors.New("cleanup broken")}

	s := New(store, proc, cleaner, Options{})
	summary := s.RunCycle(context.Background())

	require.Equal(t, 1, summary.Succeeded)
	require.Zero(t, summary.SessionsDeleted)
}

func TestRunCycleSkipsWhenCycleInFlight(t *testing.T) {
	store := newFakeFileStore(pendingFile(1))
	proc := &fakeProcessor{store: store, block: make(chan struct{})}

	s := New(store, proc, &fakeCleaner{}, Options{})

	firstDone := make(chan CycleSummary, 1)
	go func() {
		firstDone <- s.RunCycle(context.Background())
	}()

	// 等待第一轮进入处理阶段
	require.Eventually(t, func() bool {
		return store.get(1).ProcessingStatus == model.StatusProcessing
	}, time.Second, 10*time.Millisecond)

	second := s.RunCycle(context.Background())
	require.True(t, second.Skipped)

	close(proc.block)
	first := <-firstDone
	require.False(t, first.Skipped)
	require.Equal(t, 1, first.Succeeded)
}

func TestProcessFileSkipsClaimedFile(t *testing.T) {
	// 文件在选择和处理之间被其他执行者占用
	file := pendingFile(1)
	store := newFakeFileStore(file)
	proc := &fakeProcessor{store: store}

	claimed, err := store.Transition(context.Background(), 1, model.StatusPending, model.StatusProcessing, nil)
	require.NoError(t, err)
	require.True(t, claimed)

	s := New(store, proc, &fakeCleaner{}, Options{})
	summary := CycleSummary{}
	s.processFile(context.Background(), file, &summary)

	require.Zero(t, summary.Attempted)
	require.Zero(t, summary.Failed)
	require.Empty(t, proc.processed)
}

func TestStartStopIdempotent(t *testing.T) {
	store := newFakeFileStore()
	proc := &fakeProcessor{store: store}

	s := New(store, proc, &fakeCleaner{}, Options{TickInterval: time.Hour})

	s.Start()
	s.Start()
	require.True(t, s.Status().Running)

	require.Eventually(t, func() bool {
		return s.Status().TimerArmed
	}, time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
	require.False(t, s.Status().Running)
	require.False(t, s.Status().TimerArmed)

	// 停止后可以重新启动
	s.Start()
	require.True(t, s.Status().Running)
	s.Stop()
}

func TestStopReturnsWhileCycleInFlight(t *testing.T) {
	// 单文件最长可占用数分钟，Stop 不等待在途周期收尾
	store := newFakeFileStore(pendingFile(1))
	proc := &fakeProcessor{store: store, block: make(chan struct{})}

	s := New(store, proc, &fakeCleaner{}, Options{TickInterval: time.Hour})
	s.Start()

	require.Eventually(t, func() bool {
		return store.get(1).ProcessingStatus == model.StatusProcessing
	}, time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on in-flight cycle")
	}

	status := s.Status()
	require.False(t, status.Running)
	require.True(t, status.CycleInFlight)

	close(proc.block)
	require.Eventually(t, func() bool {
		return !s.Status().CycleInFlight
	}, time.Second, 10*time.Millisecond)
}

func TestRequeueFailedFilesBackoff(t *testing.T) {
	recent, err := json.Marshal(map[string]any{
		model.MetaRetryAttempt: 1,
		model.MetaFailedAt:     time.Now().Format(time.RFC3339),
	})
	require.NoError(t, err)
	overdue, err := json.Marshal(map[string]any{
		model.MetaRetryAttempt: 1,
		model.MetaFailedAt:     time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	exhausted, err := json.Marshal(map[string]any{
		model.MetaRetryAttempt: 3,
		model.MetaFailedAt:     time.Now().Add(-24 * time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)

	store := newFakeFileStore(
		&model.FileMetadata{ID: 1, ProcessingStatus: model.StatusFailed, Metadata: recent},
		&model.FileMetadata{ID: 2, ProcessingStatus: model.StatusFailed, Metadata: overdue},
		&model.FileMetadata{ID: 3, ProcessingStatus: model.StatusFailed, Metadata: exhausted},
	)
	proc := &fakeProcessor{store: store}

	s := New(store, proc, &fakeCleaner{}, Options{
		MaxRetryAttempts: 3,
		RetryBackoffBase: 10 * time.Minute,
	})
	summary := CycleSummary{}
	s.requeueFailedFiles(context.Background(), &summary)

	require.Equal(t, 1, summary.Requeued)
	require.Equal(t, model.StatusFailed, store.get(1).ProcessingStatus)
	require.Equal(t, model.StatusPending, store.get(2).ProcessingStatus)
	require.Equal(t, model.StatusFailed, store.get(3).ProcessingStatus)
	requeued := store.get(2)
	require.Equal(t, "scheduler", requeued.DecodeMetadata()[model.MetaRequeuedBy])
}

func TestRunCycleSkipsRequeueWhenRetryDisabled(t *testing.T) {
	failed, err := json.Marshal(map[string]any{
		model.MetaRetryAttempt: 1,
		model.MetaFailedAt:     time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)

	store := newFakeFileStore(
		&model.FileMetadata{ID: 1, ProcessingStatus: model.StatusFailed, Metadata: failed},
	)
	proc := &fakeProcessor{store: store}

	s := New(store, proc, &fakeCleaner{}, Options{})
	summary := s.RunCycle(context.Background())

	require.Zero(t, summary.Requeued)
	require.Equal(t, model.StatusFailed, store.get(1).ProcessingStatus)
}
