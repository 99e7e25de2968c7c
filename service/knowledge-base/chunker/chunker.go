package chunker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"study-agent-backend/model"
	"study-agent-backend/service/knowledge-base/etl/processor"
	"time"
)

// ErrAlreadyClaimed 文件已被其他周期或人工脚本占用
var ErrAlreadyClaimed = errors.New("file already claimed by another attempt")

// StatusStore 文件状态转移原语
type StatusStore interface {
	Transition(ctx context.Context, fileID uint, from, to model.ProcessingStatus, patch map[string]any) (bool, error)
}

// ObjectFetcher 按对象路径拉取源文件字节
type ObjectFetcher interface {
	FetchObject(ctx context.Context, objectName string) ([]byte, error)
}

// Chunker 单文件处理原语：占用文件、拉取源文件、执行ETL流程。
// 文件状态的终态（COMPLETED / FAILED）统一由这里写入，调用方只感知结果，
// 因此调度器和人工重试脚本可以复用同一套状态簿记。
// 可以对同一文件重复调用：chunk 在向量库中以 (object_name, chunk_index) 去重。
type Chunker struct {
	store      StatusStore
	fetcher    ObjectFetcher
	processors []processor.ETLProcessor

	now func() time.Time
}

func New(store StatusStore, fetcher ObjectFetcher, processors []processor.ETLProcessor) *Chunker {
	return &Chunker{
		store:      store,
		fetcher:    fetcher,
		processors: processors,
		now:        time.Now,
	}
}

func (c *Chunker) ProcessFile(ctx context.Context, file *model.FileMetadata) (*model.ProcessResult, error) {
	claimed, err := c.store.Transition(ctx, file.ID, model.StatusPending, model.StatusProcessing, map[string]any{
		model.MetaLastAttemptAt: c.now().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim file %d: %v", file.ID, err)
	}
	if !claimed {
		return nil, ErrAlreadyClaimed
	}

	result, err := c.runPipeline(ctx, file)

	// 流程可能因超时或取消而失败，此时原 ctx 已失效，
	// 终态写入使用不随取消失效的派生 ctx，保证失败簿记落库
	terminalCtx := context.WithoutCancel(ctx)

	if err != nil {
		c.markFailed(terminalCtx, file, err)
		return nil, err
	}

	if err := c.markCompleted(terminalCtx, file, result); err != nil {
		// 终态写入失败时文件停留在 PROCESSING，交由陈旧恢复兜底
		return nil, err
	}
	return result, nil
}

func (c *Chunker) runPipeline(ctx context.Context, file *model.FileMetadata) (*model.ProcessResult, error) {
	object, err := c.fetcher.FetchObject(ctx, file.ObjectName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object from oss: %v", err)
	}

	for _, p := range c.processors {
		if p.CanProcess(file.FileType) {
			result, err := p.ExecuteETLPipeline(ctx, object, file.ObjectName)
			if err != nil {
				return nil, fmt.Errorf("failed to execute ETL pipeline: %v", err)
			}
			return result, nil
		}
	}

	return nil, fmt.Errorf("no processor found for file type: %s", file.FileType)
}

func (c *Chunker) markCompleted(ctx context.Context, file *model.FileMetadata, result *model.ProcessResult) error {
	applied, err := c.store.Transition(ctx, file.ID, model.StatusProcessing, model.StatusCompleted, map[string]any{
		model.MetaProcessedAt:     c.now().Format(time.RFC3339),
		model.MetaChunksCreated:   result.ChunksCreated,
		model.MetaTokensProcessed: result.TokensProcessed,
	})
	if err != nil {
		return fmt.Errorf("failed to mark file %d completed: %v", file.ID, err)
	}
	if !applied {
		return fmt.Errorf("file %d no longer processing, completion not recorded", file.ID)
	}
	return nil
}

// markFailed 写入失败终态和结构化的错误元数据，重试计数加一
func (c *Chunker) markFailed(ctx context.Context, file *model.FileMetadata, cause error) {
	applied, err := c.store.Transition(ctx, file.ID, model.StatusProcessing, model.StatusFailed, map[string]any{
		model.MetaError:        cause.Error(),
		model.MetaFailedAt:     c.now().Format(time.RFC3339),
		model.MetaRetryAttempt: file.RetryAttempt() + 1,
	})
	if err != nil {
		slog.Error("Failed to mark file failed", "file_id", file.ID, "err", err)
		return
	}
	if !applied {
		slog.Warn("File status changed concurrently, failure not recorded", "file_id", file.ID)
	}
}
