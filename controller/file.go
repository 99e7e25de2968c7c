package controller

import (
	"log/slog"
	"net/http"
	"study-agent-backend/dao"
	"study-agent-backend/request"
	"study-agent-backend/response"
	knowledgebase "study-agent-backend/service/knowledge-base"
	"study-agent-backend/service/knowledge-base/etl"
	"study-agent-backend/service/mq"

	"github.com/gin-gonic/gin"
)

func GetPolicyToken(c *gin.Context) {
	email := c.GetString("email")
	policyToken, err := knowledgebase.GeneratePolicyToken(email)
	if err != nil {
		slog.Error(ErrGeneratePolicyToken.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Msg: ErrGeneratePolicyToken.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: policyToken,
	})
}

func GetFileMetadata(c *gin.Context) {
	email := c.GetString("email")
	metadata, err := dao.GetFileMetadataByEmail(email)
	if err != nil {
		slog.Error(ErrGetFileMetadata.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Msg: ErrGetFileMetadata.Error(),
		})
		return
	}

	var resp response.GetFileMetadataResponse
	for _, item := range metadata {
		resp.Metadata = append(resp.Metadata, response.FileMetadataResponse{
			FileID:           item.ID,
			FileName:         item.FileName,
			FileType:         string(item.FileType),
			FileSize:         item.FileSize,
			ProcessingStatus: string(item.ProcessingStatus),
			Metadata:         item.Metadata,
		})
	}

	c.JSON(http.StatusOK, response.Response{
		Data: resp,
	})
}

// UploadFileMetadata 在前端将文件成功传输到OSS后调用，
// 登记元数据后文件进入 PENDING 状态，由调度器在下一个周期处理
func UploadFileMetadata(c *gin.Context) {
	var req request.UploadFileMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error(ErrParseRequest.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, response.Response{
			Msg: ErrParseRequest.Error(),
		})
		return
	}

	email := c.GetString("email")
	if err := knowledgebase.UploadFileMetadata(req, email); err != nil {
		slog.Error(ErrUploadFileMetadata.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Msg: ErrUploadFileMetadata.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{})
}

// DeleteFileMetadata 删除文件元数据，向MQ发送向量库清理任务
func DeleteFileMetadata(c *gin.Context) {
	email := c.GetString("email")
	fileName := c.Query("file-name")
	if err := dao.DeleteFileMetadataByEmailAndFileName(email, fileName); err != nil {
		slog.Error(ErrDeleteFileMetadata.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Msg: ErrDeleteFileMetadata.Error(),
		})
		return
	}

	mq.SendMessage(c.Request.Context(), &mq.Message{
		Topic: mq.TopicKnowledgeBase,
		Tag:   mq.TagDelete,
		Payload: etl.DeleteMessage{
			ObjectName: email + "/" + fileName,
		},
	})

	c.JSON(http.StatusOK, response.Response{})
}

func GetPresignedURL(c *gin.Context) {
	email := c.GetString("email")
	fileName := c.Query("file-name")
	objectName := email + "/" + fileName

	url, err := knowledgebase.GeneratePresignedURL(objectName)
	if err != nil {
		slog.Error(ErrGetPreSignedURL.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Msg: ErrGetPreSignedURL.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.GetPreSignedURLResponse{
			URL: url,
		},
	})
}

func SearchFileMetadata(c *gin.Context) {
	email := c.GetString("email")
	keyword := c.Query("keyword")
	metadata, err := dao.SearchFileMetadataByFileName(email, keyword)
	if err != nil {
		slog.Error(ErrSearchFileMetadata.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Msg: ErrSearchFileMetadata.Error(),
		})
		return
	}

	var resp response.SearchFileMetadataResponse
	for _, item := range metadata {
		resp.Metadata = append(resp.Metadata, response.FileMetadataResponse{
			FileID:           item.ID,
			FileName:         item.FileName,
			FileType:         string(item.FileType),
			FileSize:         item.FileSize,
			ProcessingStatus: string(item.ProcessingStatus),
		})
	}

	c.JSON(http.StatusOK, response.Response{
		Data: resp,
	})
}
