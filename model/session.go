package model

import (
	"encoding/json"
	"time"
)

const DefaultSessionTitle = "新会话"

// Session 收藏（Starred）的会话不会被后台清理任务删除
type Session struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserEmail string    `gorm:"not null;index" json:"user_email"`
	SessionID string    `gorm:"not null" json:"session_id"`
	Title     string    `json:"title"`
	Starred   bool      `gorm:"not null;default:false" json:"starred"`
}

func (Session) TableName() string {
	return "chat_session"
}

// Message 建立联合索引 (session_id, created_at)
type Message struct {
	ID              uint            `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time       `gorm:"index:idx_session_created" json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	SessionID       string          `gorm:"not null;index:idx_session_created" json:"session_id"`
	Role            string          `gorm:"not null" json:"role"`
	Content         string          `gorm:"type:text" json:"content"`
	ImmediateSteps  string          `gorm:"type:text" json:"immediate_steps"`
	ToolCallResults json.RawMessage `gorm:"type:json" json:"tool_call_results"`
	Summary         string          `gorm:"type:text" json:"summary"`
}

type ToolCallResult struct {
	Name string `json:"name"`

	// 每次工具调用返回一组结果
	Result []string `json:"result"`
}

func (Message) TableName() string {
	return "chat_message"
}

// SessionActivity 会话清理任务使用的活跃度投影
type SessionActivity struct {
	SessionID     string `json:"session_id"`
	Starred       bool   `json:"starred"`
	UserMessages  int64  `json:"user_messages"`
	AgentMessages int64  `json:"agent_messages"`
}

// Active 会话同时包含用户消息和Agent消息才算活跃
func (a *SessionActivity) Active() bool {
	return a.UserMessages >= 1 && a.AgentMessages >= 1
}
