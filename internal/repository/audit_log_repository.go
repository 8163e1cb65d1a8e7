// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"time"

	"crm-copilot-go/internal/model"

	"gorm.io/gorm"
)

// AuditLogRepository 定义了对 ai_request_logs 表的数据操作接口。
// 日志只追加不修改：每次 GenerateResponse 调用在终态写入一条记录。
type AuditLogRepository interface {
	Create(ctx context.Context, entry *model.AIRequestLog) error
	// CountForUserSince 统计用户自 since 起、状态在 statuses 内的请求数，用于配额判定。
	CountForUserSince(ctx context.Context, userID uint, since time.Time, statuses []string) (int64, error)
	FindByUser(ctx context.Context, userID uint, limit int) ([]*model.AIRequestLog, error)
}

type auditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建一个新的 AuditLogRepository 实例。
func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

// Create 追加一条审计日志记录。
func (r *auditLogRepository) Create(ctx context.Context, entry *model.AIRequestLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// CountForUserSince 统计指定时间之后的请求条数。
func (r *auditLogRepository) CountForUserSince(ctx context.Context, userID uint, since time.Time, statuses []string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.AIRequestLog{}).
		Where("user_id = ? AND status IN ? AND start_time >= ?", userID, statuses, since).
		Count(&count).Error
	return count, err
}

// FindByUser 返回用户最近的请求记录（按开始时间倒序）。
func (r *auditLogRepository) FindByUser(ctx context.Context, userID uint, limit int) ([]*model.AIRequestLog, error) {
	var entries []*model.AIRequestLog
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_time DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
