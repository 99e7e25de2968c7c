package processor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"study-agent-backend/model"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/textsplitter"
)

// PDFETLProcessor PDF文件ETL处理器
type PDFETLProcessor struct {
	*BaseETLProcessor

	TextSplitter textsplitter.TextSplitter
}

var _ ETLProcessor = &PDFETLProcessor{}

func NewPDFETLProcessor(base *BaseETLProcessor) *PDFETLProcessor {
	textSplitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithSeparators([]string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""}),
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	return &PDFETLProcessor{
		BaseETLProcessor: base,
		TextSplitter:     textSplitter,
	}
}

func (p *PDFETLProcessor) CanProcess(fileType model.FileType) bool {
	return fileType == model.FileTypePDF
}

func (p *PDFETLProcessor) ExecuteETLPipeline(ctx context.Context, object []byte, objectName string) (*model.ProcessResult, error) {
	reader := bytes.NewReader(object)
	loader := documentloaders.NewPDF(reader, int64(len(object)))

	docs, err := loader.LoadAndSplit(ctx, p.TextSplitter)
	if err != nil {
		return nil, fmt.Errorf("error loading and spliting pdf: %v", err)
	}

	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		texts = append(texts, doc.PageContent)
	}

	slog.Debug("split pdf successfully",
		"object_name", objectName,
		"texts_num", len(texts),
	)

	vectors, err := p.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("error embedding pdf: %v", err)
	}

	if err := p.DeleteChunksByObjectName(ctx, objectName); err != nil {
		return nil, err
	}

	return p.InsertChunks(ctx, texts, vectors, objectName)
}
