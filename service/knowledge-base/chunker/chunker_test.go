package chunker

import (
	"context"
	"errors"
	"study-agent-backend/model"
	"study-agent-backend/service/knowledge-base/etl/processor"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStatusStore struct {
	files map[uint]*model.FileMetadata
}

func newFakeStatusStore(files ...*model.FileMetadata) *fakeStatusStore {
	s := &fakeStatusStore{files: make(map[uint]*model.FileMetadata)}
	for _, f := range files {
		s.files[f.ID] = f
	}
	return s
}

func (s *fakeStatusStore) Transition(ctx context.Context, fileID uint, from, to model.ProcessingStatus, patch map[string]any) (bool, error) {
	// 与数据库实现一致，已取消的 ctx 拒绝执行
	if err := ctx.Err(); err != nil {
		return false, err
	}
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
	return true, nil
}

type fakeFetcher struct {
	object []byte
	err    error
}

func (f *fakeFetcher) FetchObject(ctx context.Context, objectName string) ([]byte, error) {
	return f.object, f.err
}

// blockingFetcher 模拟挂起的OSS拉取，直到 ctx 超时才返回
type blockingFetcher struct{}

func (f *blockingFetcher) FetchObject(ctx context.Context, objectName string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeETLProcessor struct {
	fileType model.FileType
	result   *model.ProcessResult
	err      error
}

func (p *fakeETLProcessor) CanProcess(fileType model.FileType) bool {
	return fileType == p.fileType
}

func (p *fakeETLProcessor) ExecuteETLPipeline(ctx context.Context, object []byte, objectName string) (*model.ProcessResult, error) {
	return p.result, p.err
}

func pendingFile(id uint) *model.FileMetadata {
	return &model.FileMetadata{
		ID:               id,
		ObjectName:       "user@example.com/doc.md",
		FileType:         model.FileTypeMarkdown,
		ProcessingStatus: model.StatusPending,
	}
}

func TestProcessFileSuccess(t *testing.T) {
	file := pendingFile(1)
	store := newFakeStatusStore(file)
	etl := &fakeETLProcessor{
		fileType: model.FileTypeMarkdown,
		result:   &model.ProcessResult{ChunksCreated: 4, TokensProcessed: 1200},
	}

	c := New(store, &fakeFetcher{object: []byte("# doc")}, []processor.ETLProcessor{etl})
	result, err := c.ProcessFile(context.Background(), file)
	require.NoError(t, err)
	require.Equal(t, 4, result.ChunksCreated)

	got := store.files[1]
	require.Equal(t, model.StatusCompleted, got.ProcessingStatus)
	meta := got.DecodeMetadata()
	require.Contains(t, meta, model.MetaProcessedAt)
	require.Equal(t, float64(4), meta[model.MetaChunksCreated])
	require.Equal(t, float64(1200), meta[model.MetaTokensProcessed])
}

func TestProcessFileAlreadyClaimed(t *testing.T) {
	file := pendingFile(1)
	file.ProcessingStatus = model.StatusProcessing
	store := newFakeStatusStore(file)

	c := New(store, &fakeFetcher{}, nil)
	_, err := c.ProcessFile(context.Background(), file)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestProcessFileRecordsFailureMetadata(t *testing.T) {
	file := pendingFile(1)
	store := newFakeStatusStore(file)
	etl := &fakeETLProcessor{
		fileType: model.FileTypeMarkdown,
		err:      errors.New("embed api unavailable"),
	}

	c := New(store, &fakeFetcher{object: []byte("# doc")}, []processor.ETLProcessor{etl})
	_, err := c.ProcessFile(context.Background(), file)
	require.Error(t, err)

	got := store.files[1]
	require.Equal(t, model.StatusFailed, got.ProcessingStatus)
	meta := got.DecodeMetadata()
	require.Contains(t, meta[model.MetaError], "embed api unavailable")
	require.Equal(t, float64(1), meta[model.MetaRetryAttempt])

	_, parseErr := time.Parse(time.RFC3339, meta[model.MetaFailedAt].(string))
	require.NoError(t, parseErr)
}

func TestProcessFileTimeoutRecordsFailure(t *testing.T) {
	// 单文件超时后，失败终态和元数据仍要落库，不能让文件停留在 PROCESSING
	file := pendingFile(1)
	store := newFakeStatusStore(file)

	c := New(store, &blockingFetcher{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ProcessFile(ctx, file)
	require.Error(t, err)

	got := store.files[1]
	require.Equal(t, model.StatusFailed, got.ProcessingStatus)
	meta := got.DecodeMetadata()
	require.Contains(t, meta, model.MetaError)
	require.Contains(t, meta, model.MetaFailedAt)
	require.Equal(t, float64(1), meta[model.MetaRetryAttempt])
}

func TestProcessFileIncrementsRetryAttempt(t *testing.T) {
	file := pendingFile(1)
	store := newFakeStatusStore(file)
	etl := &fakeETLProcessor{fileType: model.FileTypeMarkdown, err: errors.New("boom")}

	c := New(store, &fakeFetcher{object: []byte("# doc")}, []processor.ETLProcessor{etl})

	_, err := c.ProcessFile(context.Background(), file)
	require.Error(t, err)

	// 重置回 PENDING 后再次失败，计数应累加
	applied, err := store.Transition(context.Background(), 1, model.StatusFailed, model.StatusPending, nil)
	require.NoError(t, err)
	require.True(t, applied)

	again := *store.files[1]
	_, err = c.ProcessFile(context.Background(), &again)
	require.Error(t, err)

	require.Equal(t, 2, store.files[1].RetryAttempt())
}

func TestProcessFileFetchFailureKeepsMetadataKeys(t *testing.T) {
	file := pendingFile(1)
	existing, err := model.MergeMetadata(nil, map[string]any{"workspace_note": "exam prep"})
	require.NoError(t, err)
	file.Metadata = existing
	store := newFakeStatusStore(file)

	c := New(store, &fakeFetcher{err: errors.New("object missing")}, nil)
	_, err = c.ProcessFile(context.Background(), file)
	require.Error(t, err)

	// 合并写入不覆盖无关键
	meta := store.files[1].DecodeMetadata()
	require.Equal(t, "exam prep", meta["workspace_note"])
	require.Contains(t, meta, model.MetaError)
}

func TestProcessFileNoProcessorForType(t *testing.T) {
	file := pendingFile(1)
	file.FileType = model.FileTypePDF
	store := newFakeStatusStore(file)
	etl := &fakeETLProcessor{fileType: model.FileTypeMarkdown}

	c := New(store, &fakeFetcher{object: []byte("%PDF")}, []processor.ETLProcessor{etl})
	_, err := c.ProcessFile(context.Background(), file)
	require.Error(t, err)
	require.Equal(t, model.StatusFailed, store.files[1].ProcessingStatus)
}
