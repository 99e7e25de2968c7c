package dao

import (
	"context"
	"study-agent-backend/model"

	"github.com/tmc/langchaingo/llms"
	"gorm.io/gorm"
)

func GetSessionsByEmail(email string) ([]model.Session, error) {
	var sessions []model.Session
	if err := DB.Where("user_email = ?", email).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func DeleteSession(email, sessionID string) error {
	// 删除会话
	err := DB.Where("user_email = ? AND session_id = ?", email, sessionID).
		Delete(&model.Session{}).Error
	if err != nil {
		return err
	}

	// 删除会话内的对话记录
	err = DB.Where("session_id = ?", sessionID).
		Delete(&[]model.Message{}).Error
	if err != nil {
		return err
	}

	return nil
}

func GetMessagesBySessionID(sessionID string) ([]model.Message, error) {
	var messages []model.Message
	if err := DB.Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func GetMessageByID(messageID uint) (*model.Message, error) {
	var message model.Message
	if err := DB.Where("id = ?", messageID).
		First(&message).Error; err != nil {
		return nil, err
	}
	return &message, nil
}

func UpdateSessionTitle(email, sessionID, title string) error {
	err := DB.Model(&model.Session{}).
		Where("user_email = ? AND session_id = ?", email, sessionID).
		Update("title", title).Error
	if err != nil {
		return err
	}
	return nil
}

func UpdateSessionStarred(email, sessionID string, starred bool) error {
	return DB.Model(&model.Session{}).
		Where("user_email = ? AND session_id = ?", email, sessionID).
		Update("starred", starred).Error
}

// SessionStore 会话清理任务使用的存储接口实现
type SessionStore struct {
	DB *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{DB: db}
}

// SessionActivities 返回所有会话及其按角色统计的消息数
func (s *SessionStore) SessionActivities(ctx context.Context) ([]model.SessionActivity, error) {
	var activities []model.SessionActivity
	err := s.DB.WithContext(ctx).Raw(`
		SELECT s.session_id, s.starred,
			COALESCE(SUM(m.role = ?), 0) AS user_messages,
			COALESCE(SUM(m.role IS NOT NULL AND m.role <> ?), 0) AS agent_messages
		FROM chat_session s
		LEFT JOIN chat_message m ON m.session_id = s.session_id
		GROUP BY s.session_id, s.starred`,
		string(llms.ChatMessageTypeHuman), string(llms.ChatMessageTypeHuman)).
		Scan(&activities).Error
	if err != nil {
		return nil, err
	}
	return activities, nil
}

// DeleteSessionData 删除会话及其全部消息
func (s *SessionStore) DeleteSessionData(ctx context.Context, sessionID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).
			Delete(&model.Message{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", sessionID).
			Delete(&model.Session{}).Error
	})
}
