package chat

import (
	"context"
	"fmt"
	"strings"
	"study-agent-backend/config"

	client "github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/vectorstores"
	v2 "github.com/tmc/langchaingo/vectorstores/milvus/v2"
)

const (
	kbCollectionName = "knowledge_doc"

	// 每次检索返回的chunk数
	kbSearchTopK = 5
)

// KnowledgeSearchTool 将知识库向量检索暴露为Agent工具
type KnowledgeSearchTool struct {
	store vectorstores.VectorStore
}

var _ tools.Tool = &KnowledgeSearchTool{}

func NewKnowledgeSearchTool(embedder embeddings.Embedder) (*KnowledgeSearchTool, error) {
	clientConfig := client.ClientConfig{
		Address: config.Cfg.Milvus.Endpoint,
		APIKey:  config.Cfg.Milvus.APIKey,
	}

	store, err := v2.New(context.Background(), clientConfig,
		v2.WithEmbedder(embedder),
		v2.WithCollectionName(kbCollectionName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus vector store: %v", err)
	}

	return &KnowledgeSearchTool{store: store}, nil
}

func (t *KnowledgeSearchTool) Name() string {
	return "knowledge_base_search"
}

func (t *KnowledgeSearchTool) Description() string {
	return "检索用户上传的学习资料。输入为查询语句，输出为知识库中最相关的文档片段。" +
		"回答与用户资料有关的问题前应优先调用本工具。"
}

func (t *KnowledgeSearchTool) Call(ctx context.Context, input string) (string, error) {
	docs, err := t.store.SimilaritySearch(ctx, input, kbSearchTopK)
	if err != nil {
		return "", fmt.Errorf("failed to search knowledge base: %v", err)
	}

	if len(docs) == 0 {
		return "知识库中没有找到相关内容。", nil
	}

	return formatSearchResult(docs), nil
}

func formatSearchResult(docs []schema.Document) string {
	var sb strings.Builder
	for i, doc := range docs {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, strings.TrimSpace(doc.PageContent)))
	}
	return sb.String()
}
