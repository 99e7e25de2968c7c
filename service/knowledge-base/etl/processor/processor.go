package processor

import (
	"context"
	"study-agent-backend/model"
)

// ETLProcessor 知识文件ETL处理器
type ETLProcessor interface {
	// 判断是否支持传入的文件类型
	CanProcess(fileType model.FileType) bool

	// 执行ETL流程，返回本次处理的chunk数与token数
	ExecuteETLPipeline(ctx context.Context, object []byte, objectName string) (*model.ProcessResult, error)
}
