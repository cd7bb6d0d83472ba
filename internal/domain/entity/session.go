package entity

import "time"

// Session 会话实体: 一个工作区内的持续对话
// summary 与 summary_vector 要么同时为空, 要么同时非空
type Session struct {
	ID            string
	Workspace     string
	Model         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Summary       string
	SummaryVector []float32
	TurnCount     int // 持久化消息数 (列表查询时填充)
}

// HasSummary 会话是否已生成摘要
func (s *Session) HasSummary() bool {
	return s.Summary != "" && len(s.SummaryVector) > 0
}

// RecallHit 跨会话召回命中: 某个已摘要会话与查询向量的相似度
type RecallHit struct {
	SessionID  string
	Summary    string
	Similarity float64
}
