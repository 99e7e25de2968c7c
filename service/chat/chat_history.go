package chat

import (
	"context"
	"encoding/json"
	"study-agent-backend/dao"
	"study-agent-backend/model"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"gorm.io/gorm"
)

// 单个会话加载进记忆的消息数量上限
const historyLimit = 200

// MySQLChatMessageHistory 基于 chat_message 表的会话记忆。
// 后台摘要任务会为消息补写 Summary，加载记忆时优先使用摘要以压缩上下文。
type MySQLChatMessageHistory struct {
	DB      *gorm.DB
	Session string
	Limit   int

	// 每轮对话的Agent消息ID
	AgentMessageID uint

	// 每轮对话的用户消息ID
	UserMessageID uint
}

var _ schema.ChatMessageHistory = &MySQLChatMessageHistory{}

func NewMySQLChatMessageHistory(session string) *MySQLChatMessageHistory {
	return &MySQLChatMessageHistory{
		DB:      dao.DB,
		Session: session,
		Limit:   historyLimit,
	}
}

// Messages 加载记忆时优先选取消息摘要，若为空选取全量消息
func (h *MySQLChatMessageHistory) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var messages []model.Message
	result := h.DB.WithContext(ctx).
		Select("content, summary, role").
		Where("session_id = ?", h.Session).
		Order("created_at ASC").
		Limit(h.Limit).
		Find(&messages)
	if result.Error != nil {
		return nil, result.Error
	}

	var msgs []llms.ChatMessage
	for _, msg := range messages {
		content := msg.Content
		if msg.Summary != "" {
			content = msg.Summary
		}

		switch msg.Role {
		case string(llms.ChatMessageTypeAI):
			msgs = append(msgs, llms.AIChatMessage{Content: content})
		case string(llms.ChatMessageTypeHuman):
			msgs = append(msgs, llms.HumanChatMessage{Content: content})
		case string(llms.ChatMessageTypeSystem):
			msgs = append(msgs, llms.SystemChatMessage{Content: content})
		}
	}

	return msgs, nil
}

func (h *MySQLChatMessageHistory) AddMessage(ctx context.Context, message llms.ChatMessage) error {
	return h.addMessage(ctx, message.GetContent(), message.GetType())
}

func (h *MySQLChatMessageHistory) AddAIMessage(ctx context.Context, text string) error {
	return h.addMessage(ctx, text, llms.ChatMessageTypeAI)
}

func (h *MySQLChatMessageHistory) AddUserMessage(ctx context.Context, text string) error {
	return h.addMessage(ctx, text, llms.ChatMessageTypeHuman)
}

func (h *MySQLChatMessageHistory) addMessage(ctx context.Context, text string, role llms.ChatMessageType) error {
	if ctx == nil {
		ctx = context.Background()
	}

	msg := model.Message{
		SessionID: h.Session,
		Role:      string(role),
		Content:   text,
	}

	if err := h.DB.WithContext(ctx).Create(&msg).Error; err != nil {
		return err
	}

	// 记录本轮消息ID，供思考步骤、工具结果和摘要任务回写
	switch role {
	case llms.ChatMessageTypeAI:
		h.AgentMessageID = msg.ID
	case llms.ChatMessageTypeHuman:
		h.UserMessageID = msg.ID
	}

	return nil
}

func (h *MySQLChatMessageHistory) Clear(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	return h.DB.WithContext(ctx).
		Where("session_id = ?", h.Session).
		Delete(&model.Message{}).Error
}

func (h *MySQLChatMessageHistory) SetMessages(ctx context.Context, messages []llms.ChatMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}

	return h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Where("session_id = ?", h.Session).
			Delete(&model.Message{}).Error; err != nil {
			return err
		}

		var values []model.Message
		for _, msg := range messages {
			values = append(values, model.Message{
				SessionID: h.Session,
				Role:      string(msg.GetType()),
				Content:   msg.GetContent(),
			})
		}

		if len(values) > 0 {
			if err := tx.WithContext(ctx).
				CreateInBatches(values, 100).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

// SetImmediateSteps 回写本轮Agent消息的思考步骤
func (h *MySQLChatMessageHistory) SetImmediateSteps(ctx context.Context, steps string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	return h.DB.WithContext(ctx).
		Model(&model.Message{}).
		Where("id = ?", h.AgentMessageID).
		Update("immediate_steps", steps).Error
}

// SetToolCallResults 回写本轮Agent消息的工具调用结果
func (h *MySQLChatMessageHistory) SetToolCallResults(ctx context.Context, toolCallResults []model.ToolCallResult) error {
	if ctx == nil {
		ctx = context.Background()
	}

	toolCallResultsJSON, err := json.Marshal(toolCallResults)
	if err != nil {
		return err
	}

	return h.DB.WithContext(ctx).
		Model(&model.Message{}).
		Where("id = ?", h.AgentMessageID).
		Update("tool_call_results", toolCallResultsJSON).Error
}
