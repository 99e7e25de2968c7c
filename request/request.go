package request

type UserRegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type UserLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AgentConfig struct {
	Model         string   `json:"model" binding:"required"`
	Tools         []string `json:"tools"`
	MaxIterations int      `json:"max_iterations"`
}

type ChatRequest struct {
	SessionID   string      `json:"session_id" binding:"required"`
	Query       string      `json:"query" binding:"required"`
	AgentConfig AgentConfig `json:"agent_config" binding:"required"`
}

type UpdateSessionTitleRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Title     string `json:"title" binding:"required"`
}

type StarSessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Starred   bool   `json:"starred"`
}

// UploadFileMetadataRequest 前端直传OSS成功后登记文件元数据
type UploadFileMetadataRequest struct {
	WorkspaceID string `json:"workspace_id"`
	FileName    string `json:"file_name" binding:"required"`
	FileType    string `json:"file_type" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required"`
	ObjectName  string `json:"object_name" binding:"required"`
}

type ReprocessFileRequest struct {
	FileID uint `json:"file_id" binding:"required"`
}
