package model

import "time"

// 审计状态常量。每次 GenerateResponse 调用写且仅写一条记录。
const (
	AuditStatusCompleted = "completed"
	AuditStatusFailed    = "failed"
	AuditStatusRejected  = "rejected"
	AuditStatusPending   = "pending"
)

// AIRequestLog 对应于数据库中的 ai_request_logs 表。
// 追加写入，创建后永不更新。
type AIRequestLog struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID      string    `gorm:"type:varchar(36);not null;index" json:"requestId"`
	Feature        string    `gorm:"type:varchar(50);not null;index" json:"feature"`
	RequestType    string    `gorm:"type:varchar(50)" json:"requestType"`
	UserID         uint      `gorm:"not null;index" json:"userId"`
	InputSummary   string    `gorm:"type:varchar(500)" json:"inputSummary"`
	OutputSummary  string    `gorm:"type:varchar(500)" json:"outputSummary"`
	Status         string    `gorm:"type:varchar(20);not null;index" json:"status"`
	StartTime      time.Time `gorm:"not null;index" json:"startTime"`
	EndTime        time.Time `gorm:"not null" json:"endTime"`
	ResponseTimeMs int64     `gorm:"not null;default:0" json:"responseTimeMs"`
	ErrorMessage   string    `gorm:"type:varchar(500)" json:"errorMessage"`
	EstimatedCost  float64   `gorm:"not null;default:0" json:"estimatedCost"`
}

func (AIRequestLog) TableName() string {
	return "ai_request_logs"
}

// UserQuota 对应于数据库中的 ai_user_quotas 表。
// Used 是成功响应后递增的次级信号；权威的配额判定基于审计日志按日计数。
type UserQuota struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex" json:"userId"`
	Used      int       `gorm:"not null;default:0" json:"used"`
	Limit     int       `gorm:"not null;default:0;column:daily_limit" json:"limit"`
	LastReset time.Time `json:"lastReset"`
}

func (UserQuota) TableName() string {
	return "ai_user_quotas"
}
