package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"study-agent-backend/config"
	"study-agent-backend/dao"
	"study-agent-backend/model"
	knowledgebase "study-agent-backend/service/knowledge-base"
	"study-agent-backend/service/knowledge-base/chunker"
	"study-agent-backend/service/knowledge-base/etl"
	"study-agent-backend/service/knowledge-base/etl/processor"
	"time"
)

// 运维工具：将一个失败文件重置回 PENDING 并立即处理一次
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	fileID := flag.Uint("file-id", 0, "id of the failed file to reprocess")
	timeout := flag.Duration("timeout", 3*time.Minute, "processing timeout")
	flag.Parse()

	if *fileID == 0 {
		slog.Error("file-id is required")
		os.Exit(1)
	}

	if err := config.Load(*configPath); err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	if err := dao.Init(); err != nil {
		slog.Error("Failed to init database", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fileStore := dao.NewFileStore(dao.DB)
	applied, err := fileStore.Transition(ctx, *fileID,
		model.StatusFailed, model.StatusPending, map[string]any{
			model.MetaRequeuedAt: time.Now().Format(time.RFC3339),
			model.MetaRequeuedBy: "operator",
		})
	if err != nil {
		slog.Error("Failed to requeue file", "file_id", *fileID, "err", err)
		os.Exit(1)
	}
	if !applied {
		slog.Error("File is not in failed status", "file_id", *fileID)
		os.Exit(1)
	}

	file, err := fileStore.GetFileByID(ctx, *fileID)
	if err != nil {
		slog.Error("Failed to get file", "file_id", *fileID, "err", err)
		os.Exit(1)
	}

	base, err := processor.NewBaseETLProcessor()
	if err != nil {
		slog.Error("Failed to create etl processor", "err", err)
		os.Exit(1)
	}

	fileChunker := chunker.New(fileStore, knowledgebase.NewOSSFetcher(), etl.NewProcessorRegistry(base))
	result, err := fileChunker.ProcessFile(ctx, file)
	if err != nil {
		slog.Error("Failed to process file", "file_id", *fileID, "err", err)
		os.Exit(1)
	}

	slog.Info("File reprocessed",
		"file_id", *fileID,
		"chunks_created", result.ChunksCreated,
		"tokens_processed", result.TokensProcessed,
	)
}
