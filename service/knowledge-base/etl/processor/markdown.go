package processor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"study-agent-backend/model"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// MarkdownETLProcessor Markdown文件ETL处理器，兼容Text文件
type MarkdownETLProcessor struct {
	*BaseETLProcessor

	TextSplitter textsplitter.TextSplitter
}

var _ ETLProcessor = &MarkdownETLProcessor{}

func NewMarkdownETLProcessor(base *BaseETLProcessor) *MarkdownETLProcessor {
	separators := []string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""}
	textSplitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithHeadingHierarchy(true), // 保留父级标题信息
		textsplitter.WithSecondSplitter(textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(separators),
		)),
	)

	return &MarkdownETLProcessor{
		BaseETLProcessor: base,
		TextSplitter:     textSplitter,
	}
}

func (p *MarkdownETLProcessor) CanProcess(fileType model.FileType) bool {
	return fileType == model.FileTypeMarkdown || fileType == model.FileTypeText
}

func (p *MarkdownETLProcessor) ExecuteETLPipeline(ctx context.Context, object []byte, objectName string) (*model.ProcessResult, error) {
	reader := bytes.NewReader(object)
	loader := documentloaders.NewText(reader)

	docs, err := loader.LoadAndSplit(ctx, p.TextSplitter)
	if err != nil {
		return nil, fmt.Errorf("error loading and spliting markdown: %v", err)
	}

	// 过滤只有孤立标题的chunk
	docs = p.filterStandaloneHeaders(docs)

	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		texts = append(texts, doc.PageContent)
	}

	slog.Debug("split markdown successfully",
		"object_name", objectName,
		"texts_num", len(texts),
	)

	vectors, err := p.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("error embedding markdown: %v", err)
	}

	// 重复处理同一文件前先清空旧chunk，保证重试不产生重复记录
	if err := p.DeleteChunksByObjectName(ctx, objectName); err != nil {
		return nil, err
	}

	return p.InsertChunks(ctx, texts, vectors, objectName)
}

func (p *MarkdownETLProcessor) filterStandaloneHeaders(docs []schema.Document) []schema.Document {
	var filteredDocs []schema.Document

	// 匹配形如 "# xxx ## xxx" 的chunk
	headerOnlyRegex := regexp.MustCompile(`^\s*(?:#{1,6}\s+.+\n?)+\s*$`)

	for _, doc := range docs {
		content := strings.TrimSpace(doc.PageContent)
		if content == "" {
			continue
		}

		if headerOnlyRegex.MatchString(content) {
			continue
		}

		filteredDocs = append(filteredDocs, doc)
	}
	return filteredDocs
}
