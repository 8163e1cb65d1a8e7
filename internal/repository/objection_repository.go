package repository

import (
	"context"
	"time"

	"crm-copilot-go/internal/model"

	"gorm.io/gorm"
)

// ObjectionRepository 定义了对 objections 表的只读数据操作接口。
type ObjectionRepository interface {
	FindByID(ctx context.Context, id uint) (*model.Objection, error)
	// FindResolvedPage 分页返回已解决的异议（只有已解决的异议才进入向量库）。
	FindResolvedPage(ctx context.Context, offset, limit int) ([]*model.Objection, error)
	FindResolvedChangedSince(ctx context.Context, since time.Time) ([]*model.Objection, error)
}

type objectionRepository struct {
	db *gorm.DB
}

// NewObjectionRepository 创建一个新的 ObjectionRepository 实例。
func NewObjectionRepository(db *gorm.DB) ObjectionRepository {
	return &objectionRepository{db: db}
}

func (r *objectionRepository) FindByID(ctx context.Context, id uint) (*model.Objection, error) {
	var objection model.Objection
	if err := r.db.WithContext(ctx).First(&objection, id).Error; err != nil {
		return nil, err
	}
	return &objection, nil
}

func (r *objectionRepository) FindResolvedPage(ctx context.Context, offset, limit int) ([]*model.Objection, error) {
	var objections []*model.Objection
	err := r.db.WithContext(ctx).
		Where("is_resolved = ?", true).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&objections).Error
	return objections, err
}

func (r *objectionRepository) FindResolvedChangedSince(ctx context.Context, since time.Time) ([]*model.Objection, error) {
	var objections []*model.Objection
	err := r.db.WithContext(ctx).
		Where("is_resolved = ? AND updated_at >= ?", true, since).
		Order("id ASC").
		Find(&objections).Error
	return objections, err
}
