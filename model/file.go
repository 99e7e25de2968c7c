package model

import (
	"encoding/json"
	"time"
)

type FileType string

const (
	FileTypePDF      FileType = "pdf"
	FileTypeMarkdown FileType = "md"
	FileTypeText     FileType = "txt"
)

type ProcessingStatus string

const (
	// 文件上传完成，等待向量化处理
	StatusPending ProcessingStatus = "PENDING"

	// 文件正在向量化处理中
	StatusProcessing ProcessingStatus = "PROCESSING"

	// 文件向量化处理完成
	StatusCompleted ProcessingStatus = "COMPLETED"

	// 文件向量化处理失败
	StatusFailed ProcessingStatus = "FAILED"
)

// 文件处理过程写入 Metadata 的键
const (
	MetaError                 = "error"
	MetaFailedAt              = "failed_at"
	MetaRetryAttempt          = "retry_attempt"
	MetaProcessedAt           = "processed_at"
	MetaChunksCreated         = "chunks_created"
	MetaTokensProcessed       = "tokens_processed"
	MetaLastAttemptAt         = "last_attempt_at"
	MetaResetFromProcessingAt = "reset_from_processing_at"
	MetaPreviousAttemptAt     = "previous_attempt_at"
	MetaRequeuedAt            = "requeued_at"
	MetaRequeuedBy            = "requeued_by"
)

// FileMetadata 存储知识文件元数据
// 建立联合索引 (user_email, created_at)，在 processing_status 上建立索引用于调度器批量查询
type FileMetadata struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `gorm:"not null;index:idx_email_created" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
	UserEmail   string    `gorm:"not null;index:idx_email_created" json:"user_email"`
	WorkspaceID string    `gorm:"not null;index" json:"workspace_id"`
	FileName    string    `gorm:"not null" json:"file_name"`
	FileType    FileType  `gorm:"not null" json:"file_type"`
	FileSize    int64     `gorm:"not null" json:"file_size"`

	// 文件在OSS上的完整路径，不包含bucket名称
	ObjectName string `gorm:"not null" json:"object_name"`

	// 文件处理状态，由状态转移原语统一写入
	ProcessingStatus ProcessingStatus `gorm:"not null;default:PENDING;index" json:"processing_status"`

	// 处理过程的运维注记（错误信息、失败时间、重试计数等），合并写入，不覆盖无关键
	Metadata json.RawMessage `gorm:"type:json" json:"metadata"`
}

func (FileMetadata) TableName() string {
	return "file_metadata"
}

// DecodeMetadata 解析 Metadata 列，列为空时返回空map
func (f *FileMetadata) DecodeMetadata() map[string]any {
	meta := make(map[string]any)
	if len(f.Metadata) == 0 {
		return meta
	}
	if err := json.Unmarshal(f.Metadata, &meta); err != nil {
		return make(map[string]any)
	}
	return meta
}

// RetryAttempt 返回已记录的重试次数，未记录时为0
func (f *FileMetadata) RetryAttempt() int {
	v, ok := f.DecodeMetadata()[MetaRetryAttempt]
	if !ok {
		return 0
	}
	// JSON 数字反序列化为 float64
	if n, ok := v.(float64); ok {
		return int(n)
	}
	return 0
}

// FailedAt 返回最近一次失败时间，未记录时返回零值
func (f *FileMetadata) FailedAt() time.Time {
	v, ok := f.DecodeMetadata()[MetaFailedAt]
	if !ok {
		return time.Time{}
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MergeMetadata 将 patch 合并进已有的元数据，保留未被覆盖的键
func MergeMetadata(existing json.RawMessage, patch map[string]any) (json.RawMessage, error) {
	merged := make(map[string]any)
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return nil, err
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// ProcessResult 单次文件处理的结果摘要
type ProcessResult struct {
	ChunksCreated   int `json:"chunks_created"`
	TokensProcessed int `json:"tokens_processed"`
}
