package repository

import (
	"context"
	"time"

	"crm-copilot-go/internal/model"

	"gorm.io/gorm"
)

// QuotaRepository 定义了对 ai_user_quotas 表的数据操作接口。
type QuotaRepository interface {
	GetOrCreate(ctx context.Context, userID uint, defaultLimit int) (*model.UserQuota, error)
	// IncrementUsage 在成功响应后递增持久化的用量计数（次级信号，最终一致）。
	IncrementUsage(ctx context.Context, userID uint) error
	ResetUsage(ctx context.Context, userID uint) error
}

type quotaRepository struct {
	db *gorm.DB
}

// NewQuotaRepository 创建一个新的 QuotaRepository 实例。
func NewQuotaRepository(db *gorm.DB) QuotaRepository {
	return &quotaRepository{db: db}
}

// GetOrCreate 获取用户配额记录，不存在时以默认限额创建。
func (r *quotaRepository) GetOrCreate(ctx context.Context, userID uint, defaultLimit int) (*model.UserQuota, error) {
	var quota model.UserQuota
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&quota).Error
	if err == nil {
		return &quota, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	quota = model.UserQuota{
		UserID:    userID,
		Used:      0,
		Limit:     defaultLimit,
		LastReset: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&quota).Error; err != nil {
		return nil, err
	}
	return &quota, nil
}

// IncrementUsage 递增用量计数。
func (r *quotaRepository) IncrementUsage(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.UserQuota{}).
		Where("user_id = ?", userID).
		UpdateColumn("used", gorm.Expr("used + 1")).Error
}

// ResetUsage 将用量计数清零并记录重置时间。
func (r *quotaRepository) ResetUsage(ctx context.Context, userID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.UserQuota{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"used": 0, "last_reset": time.Now()}).Error
}
