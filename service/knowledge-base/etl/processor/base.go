package processor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"study-agent-backend/config"
	"study-agent-backend/model"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/milvus-io/milvus/client/v2/column"
	client "github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	embeddingBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

	defaultEmbeddingModel     = "text-embedding-v4"
	defaultEmbeddingBatchSize = 10

	chunkSize    = 4000
	chunkOverlap = 200

	vectorDim = 1024

	embedAttempts = 3

	// CollectionName chunk 以 (object_name, chunk_index) 在集合内唯一
	CollectionName = "knowledge_doc"
)

// BaseETLProcessor 各文件类型处理器共享的 嵌入 + 向量写入 逻辑
type BaseETLProcessor struct {
	Embedder     embeddings.Embedder
	MilvusClient *client.Client
}

func NewBaseETLProcessor() (*BaseETLProcessor, error) {
	llm, err := openai.New(
		openai.WithEmbeddingModel(defaultEmbeddingModel),
		openai.WithToken(config.Cfg.Model.APIKey),
		openai.WithBaseURL(embeddingBaseURL),
		openai.WithHTTPClient(&http.Client{
			Timeout: 60 * time.Second,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder client: %v", err)
	}

	embedder, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(defaultEmbeddingBatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %v", err)
	}

	milvusClient, err := client.New(context.Background(), &client.ClientConfig{
		Address: config.Cfg.Milvus.Endpoint,
		APIKey:  config.Cfg.Milvus.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %v", err)
	}

	return &BaseETLProcessor{
		Embedder:     embedder,
		MilvusClient: milvusClient,
	}, nil
}

// EmbedTexts 调用嵌入接口，对瞬时错误做退避重试
func (p *BaseETLProcessor) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.DoWithData(
		func() ([][]float32, error) {
			return p.Embedder.EmbedDocuments(ctx, texts)
		},
		retry.Context(ctx),
		retry.Attempts(embedAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("Retrying to embed documents",
				"attempt", n+1,
				"texts_num", len(texts),
				"err", err)
		}),
	)
}

// InsertChunks 将chunk及向量写入Milvus，附带 object_name 和 chunk_index 元数据列
func (p *BaseETLProcessor) InsertChunks(ctx context.Context, texts []string, vectors [][]float32, objectName string) (*model.ProcessResult, error) {
	objectNames := make([]string, len(texts))
	chunkIndexes := make([]int64, len(texts))
	for i := range texts {
		objectNames[i] = objectName
		chunkIndexes[i] = int64(i)
	}

	columns := []column.Column{
		column.NewColumnVarChar("text", texts),
		column.NewColumnFloatVector("vector", vectorDim, vectors),
		column.NewColumnVarChar("object_name", objectNames),
		column.NewColumnInt64("chunk_index", chunkIndexes),
	}

	insertOption := client.NewColumnBasedInsertOption(CollectionName).WithColumns(columns...)
	if _, err := p.MilvusClient.Insert(ctx, insertOption); err != nil {
		return nil, fmt.Errorf("error inserting chunks: %v", err)
	}

	tokens := 0
	for _, text := range texts {
		tokens += llms.CountTokens(defaultEmbeddingModel, text)
	}

	return &model.ProcessResult{
		ChunksCreated:   len(texts),
		TokensProcessed: tokens,
	}, nil
}

// DeleteChunksByObjectName 删除某个文件的全部chunk，重新处理前也会调用以保证幂等
func (p *BaseETLProcessor) DeleteChunksByObjectName(ctx context.Context, objectName string) error {
	deleteOption := client.NewDeleteOption(CollectionName).
		WithExpr(fmt.Sprintf(`object_name == "%s"`, objectName))
	if _, err := p.MilvusClient.Delete(ctx, deleteOption); err != nil {
		return fmt.Errorf("error deleting chunks of %s: %v", objectName, err)
	}
	return nil
}
