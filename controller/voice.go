package controller

import (
	"log/slog"
	"net/http"
	"study-agent-backend/response"
	voicerecognition "study-agent-backend/service/voice-recognition"

	"github.com/gin-gonic/gin"
)

func VoiceRecognition(c *gin.Context) {
	audioFile, err := c.FormFile("audio")
	if err != nil {
		slog.Error(ErrGetAudioFile.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, response.Response{
			Msg: ErrGetAudioFile.Error(),
		})
		return
	}

	text, err := voicerecognition.Recognize(audioFile)
	if err != nil {
		slog.Error(ErrVoiceRecognition.Error(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Msg: ErrVoiceRecognition.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Data: response.VoiceRecognitionResponse{
			Text: text,
		},
	})
}
