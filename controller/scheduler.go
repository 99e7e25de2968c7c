package controller

import (
	"log/slog"
	"net/http"
	"study-agent-backend/request"
	"study-agent-backend/response"
	"study-agent-backend/service/knowledge-base/etl"
	"study-agent-backend/service/mq"
	"study-agent-backend/service/scheduler"

	"github.com/gin-gonic/gin"
)

// SchedulerController 暴露文件处理调度器的运维接口
type SchedulerController struct {
	Scheduler *scheduler.Scheduler
}

func NewSchedulerController(s *scheduler.Scheduler) *SchedulerController {
	return &SchedulerController{Scheduler: s}
}

func (sc *SchedulerController) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, response.Response{
		Data: sc.Scheduler.Status(),
	})
}

func (sc *SchedulerController) Start(c *gin.Context) {
	sc.Scheduler.Start()
	c.JSON(http.StatusOK, response.Response{
		Data: sc.Scheduler.Status(),
	})
}

func (sc *SchedulerController) Stop(c *gin.Context) {
	sc.Scheduler.Stop()
	c.JSON(http.StatusOK, response.Response{
		Data: sc.Scheduler.Status(),
	})
}

// ReprocessFile 将失败文件重置回待处理队列，经MQ异步执行
func ReprocessFile(c *gin.Context) {
	var req request.ReprocessFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Error(ErrParseRequest.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, response.Response{
			Msg: ErrParseRequest.Error(),
		})
		return
	}

	err := mq.SendMessage(c.Request.Context(), &mq.Message{
		Topic: mq.TopicKnowledgeBase,
		Tag:   mq.TagReprocess,
		Payload: etl.ReprocessMessage{
			FileID: req.FileID,
		},
	})
	if err != nil {
		slog.Error(ErrReprocessFile.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Msg: ErrReprocessFile.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, response.Response{})
}
