package dao

import (
	"context"
	"errors"
	"study-agent-backend/model"
	"study-agent-backend/request"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func SaveFileMetadata(req request.UploadFileMetadataRequest, email string) error {
	fileMetadata := model.FileMetadata{
		UserEmail:        email,
		WorkspaceID:      req.WorkspaceID,
		FileName:         req.FileName,
		FileType:         model.FileType(req.FileType),
		FileSize:         req.FileSize,
		ObjectName:       req.ObjectName,
		ProcessingStatus: model.StatusPending,
	}
	return DB.Create(&fileMetadata).Error
}

func GetFileMetadataByEmail(email string) ([]model.FileMetadata, error) {
	var fileMetadata []model.FileMetadata
	if err := DB.Where("user_email = ?", email).
		Order("created_at DESC").
		Find(&fileMetadata).Error; err != nil {
		return nil, err
	}
	return fileMetadata, nil
}

func GetFileMetadataByEmailAndFileName(email, fileName string) (*model.FileMetadata, error) {
	var fileMetadata model.FileMetadata
	if err := DB.Where("user_email = ? AND file_name = ?", email, fileName).
		First(&fileMetadata).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &fileMetadata, nil
}

func SearchFileMetadataByFileName(email, keyword string) ([]model.FileMetadata, error) {
	var fileMetadata []model.FileMetadata
	if err := DB.Where("user_email = ? AND file_name LIKE ?", email, "%"+keyword+"%").
		Order("created_at DESC").
		Find(&fileMetadata).Error; err != nil {
		return nil, err
	}
	return fileMetadata, nil
}

func DeleteFileMetadataByEmailAndFileName(email, fileName string) error {
	return DB.Where("user_email = ? AND file_name = ?", email, fileName).
		Delete(&model.FileMetadata{}).Error
}

// FileStore 调度器与处理原语使用的文件存储接口实现
type FileStore struct {
	DB *gorm.DB
}

func NewFileStore(db *gorm.DB) *FileStore {
	return &FileStore{DB: db}
}

func (s *FileStore) GetFileByID(ctx context.Context, fileID uint) (*model.FileMetadata, error) {
	var file model.FileMetadata
	if err := s.DB.WithContext(ctx).
		Where("id = ?", fileID).
		First(&file).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

// PendingFiles 按创建时间顺序返回待处理文件，数量受 limit 约束
func (s *FileStore) PendingFiles(ctx context.Context, limit int) ([]model.FileMetadata, error) {
	var files []model.FileMetadata
	if err := s.DB.WithContext(ctx).
		Where("processing_status = ?", model.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// StaleProcessingFiles 返回卡在 PROCESSING 状态且超过陈旧阈值的文件
func (s *FileStore) StaleProcessingFiles(ctx context.Context, cutoff time.Time) ([]model.FileMetadata, error) {
	var files []model.FileMetadata
	if err := s.DB.WithContext(ctx).
		Where("processing_status = ? AND updated_at < ?", model.StatusProcessing, cutoff).
		Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// FailedFiles 返回处理失败的文件，用于自动重试的候选扫描
func (s *FileStore) FailedFiles(ctx context.Context, limit int) ([]model.FileMetadata, error) {
	var files []model.FileMetadata
	if err := s.DB.WithContext(ctx).
		Where("processing_status = ?", model.StatusFailed).
		Order("updated_at ASC").
		Limit(limit).
		Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// Transition 状态转移原语：行锁下校验当前状态，合并元数据后写入目标状态。
// 当前状态与 from 不符时返回 false，调用方据此感知并发竞争。
func (s *FileStore) Transition(ctx context.Context, fileID uint, from, to model.ProcessingStatus, patch map[string]any) (bool, error) {
	applied := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file model.FileMetadata
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", fileID).
			First(&file).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		if file.ProcessingStatus != from {
			return nil
		}

		merged, err := model.MergeMetadata(file.Metadata, patch)
		if err != nil {
			return err
		}

		if err := tx.Model(&model.FileMetadata{}).
			Where("id = ?", fileID).
			Updates(map[string]any{
				"processing_status": to,
				"metadata":          merged,
			}).Error; err != nil {
			return err
		}

		applied = true
		return nil
	})
	return applied, err
}
