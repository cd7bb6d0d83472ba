package entity

import "time"

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid 是否为已知角色
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Turn 一轮对话的角色和内容, 不含持久化字段
// 用于短期记忆缓冲和提示词组装
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message 单条聊天消息, 属于一个会话
// 持久化顺序即插入顺序; 角色顺序不做约束
type Message struct {
	ID        int64
	SessionID string
	Role      Role
	Content   string
	CreatedAt time.Time
}
