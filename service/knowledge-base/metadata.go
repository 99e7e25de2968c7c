package knowledgebase

import (
	"fmt"
	"study-agent-backend/dao"
	"study-agent-backend/model"
	"study-agent-backend/request"
)

// UploadFileMetadata 前端将文件直传OSS成功后调用，
// 记录元数据并置为 PENDING，等待调度器拾取处理
func UploadFileMetadata(req request.UploadFileMetadataRequest, email string) error {
	switch model.FileType(req.FileType) {
	case model.FileTypePDF, model.FileTypeMarkdown, model.FileTypeText:
	default:
		return fmt.Errorf("unsupported file type: %s", req.FileType)
	}

	existing, err := dao.GetFileMetadataByEmailAndFileName(email, req.FileName)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("file %s already exists", req.FileName)
	}

	return dao.SaveFileMetadata(req, email)
}
