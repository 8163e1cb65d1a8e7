package repository

import (
	"context"
	"time"

	"crm-copilot-go/internal/model"

	"gorm.io/gorm"
)

// InteractionRepository 定义了对 interactions 表的只读数据操作接口。
type InteractionRepository interface {
	FindByID(ctx context.Context, id uint) (*model.Interaction, error)
	// FindWithNotesPage 分页返回带有沟通纪要的记录（空纪要不进入向量库）。
	FindWithNotesPage(ctx context.Context, offset, limit int) ([]*model.Interaction, error)
	FindWithNotesChangedSince(ctx context.Context, since time.Time) ([]*model.Interaction, error)
}

type interactionRepository struct {
	db *gorm.DB
}

// NewInteractionRepository 创建一个新的 InteractionRepository 实例。
func NewInteractionRepository(db *gorm.DB) InteractionRepository {
	return &interactionRepository{db: db}
}

func (r *interactionRepository) FindByID(ctx context.Context, id uint) (*model.Interaction, error) {
	var interaction model.Interaction
	if err := r.db.WithContext(ctx).First(&interaction, id).Error; err != nil {
		return nil, err
	}
	return &interaction, nil
}

func (r *interactionRepository) FindWithNotesPage(ctx context.Context, offset, limit int) ([]*model.Interaction, error) {
	var interactions []*model.Interaction
	err := r.db.WithContext(ctx).
		Where("notes IS NOT NULL AND notes <> ''").
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&interactions).Error
	return interactions, err
}

func (r *interactionRepository) FindWithNotesChangedSince(ctx context.Context, since time.Time) ([]*model.Interaction, error) {
	var interactions []*model.Interaction
	err := r.db.WithContext(ctx).
		Where("notes IS NOT NULL AND notes <> '' AND updated_at >= ?", since).
		Order("id ASC").
		Find(&interactions).Error
	return interactions, err
}
