package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"study-agent-backend/dao"
	"study-agent-backend/model"
	"study-agent-backend/service/knowledge-base/etl/processor"
	"time"

	"github.com/apache/rocketmq-client-go/v2/primitive"
)

// DeleteMessage 文件删除后异步清理向量库中的chunk
type DeleteMessage struct {
	ObjectName string `json:"object_name"`
}

// ReprocessMessage 运维触发的失败文件重试，文件被重置回 PENDING 后由调度器拾取
type ReprocessMessage struct {
	FileID uint `json:"file_id"`
}

// NewProcessorRegistry 构建全部文件类型的ETL处理器
func NewProcessorRegistry(base *processor.BaseETLProcessor) []processor.ETLProcessor {
	return []processor.ETLProcessor{
		processor.NewPDFETLProcessor(base),
		processor.NewMarkdownETLProcessor(base),
	}
}

// Service 处理知识库相关的MQ任务
type Service struct {
	base  *processor.BaseETLProcessor
	files *dao.FileStore
}

func NewService(base *processor.BaseETLProcessor, files *dao.FileStore) *Service {
	return &Service{
		base:  base,
		files: files,
	}
}

func (s *Service) HandleDeleteMessage(ctx context.Context, msg *primitive.MessageExt) error {
	var deleteMessage DeleteMessage
	if err := json.Unmarshal(msg.Body, &deleteMessage); err != nil {
		return fmt.Errorf("failed to unmarshal message body: %v", err)
	}

	if err := s.base.DeleteChunksByObjectName(ctx, deleteMessage.ObjectName); err != nil {
		return fmt.Errorf("failed to delete chunks: %v", err)
	}

	slog.Info("Deleted chunks of removed file", "object_name", deleteMessage.ObjectName)
	return nil
}

func (s *Service) HandleReprocessMessage(ctx context.Context, msg *primitive.MessageExt) error {
	var reprocessMessage ReprocessMessage
	if err := json.Unmarshal(msg.Body, &reprocessMessage); err != nil {
		return fmt.Errorf("failed to unmarshal message body: %v", err)
	}

	applied, err := s.files.Transition(ctx, reprocessMessage.FileID,
		model.StatusFailed, model.StatusPending, map[string]any{
			model.MetaRequeuedAt: time.Now().Format(time.RFC3339),
			model.MetaRequeuedBy: "operator",
		})
	if err != nil {
		return fmt.Errorf("failed to requeue file %d: %v", reprocessMessage.FileID, err)
	}
	if !applied {
		// 文件不处于 FAILED 状态，重试指令过期，不再投递
		slog.Warn("File not in failed status, reprocess command ignored",
			"file_id", reprocessMessage.FileID)
		return nil
	}

	slog.Info("Requeued failed file for reprocessing", "file_id", reprocessMessage.FileID)
	return nil
}
