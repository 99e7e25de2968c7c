package router

import (
	"study-agent-backend/controller"
	"study-agent-backend/middleware"

	"github.com/gin-gonic/gin"
)

func Register(schedulerController *controller.SchedulerController) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		public := api.Group("/user")
		{
			public.POST("/register", controller.UserRegister)
			public.POST("/login", controller.UserLogin)
		}

		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			protected.POST("/session", controller.CreateSession)
			protected.GET("/sessions", controller.GetSessions)
			protected.DELETE("/session/:id", controller.DeleteSession)
			protected.GET("/session/:id/messages", controller.GetSessionMessages)
			protected.PUT("/session/:id/title", controller.UpdateSessionTitle)
			protected.PUT("/session/:id/star", controller.StarSession)

			protected.POST("/chat", controller.AgentChat)

			protected.POST("/voice-recognition", controller.VoiceRecognition)

			protected.GET("/oss/policy-token", controller.GetPolicyToken)
			protected.GET("/file/metadata", controller.GetFileMetadata)
			protected.POST("/file/metadata", controller.UploadFileMetadata)
			protected.DELETE("/file/metadata", controller.DeleteFileMetadata)
			protected.GET("/file/download-link", controller.GetPresignedURL)
			protected.GET("/file/metadata/search", controller.SearchFileMetadata)

			protected.GET("/scheduler/status", schedulerController.GetStatus)
			protected.POST("/scheduler/start", schedulerController.Start)
			protected.POST("/scheduler/stop", schedulerController.Stop)
			protected.POST("/scheduler/reprocess", controller.ReprocessFile)
		}
	}

	return r
}
