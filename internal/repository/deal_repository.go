package repository

import (
	"context"
	"time"

	"crm-copilot-go/internal/model"

	"gorm.io/gorm"
)

// 可索引的商机阶段：只有已关闭的商机才进入向量库。
var closedStages = []string{"closed_won", "closed_lost"}

// DealRepository 定义了对 deals 表的只读数据操作接口。
// 本子系统不写 CRM 实体，写入由外层 CRM 应用负责。
type DealRepository interface {
	FindByID(ctx context.Context, id uint) (*model.Deal, error)
	// FindClosedPage 分页返回已关闭的商机，带已解决异议与沟通记录。
	FindClosedPage(ctx context.Context, offset, limit int) ([]*model.Deal, error)
	// FindClosedChangedSince 返回窗口内有变更的已关闭商机，用于定时对账。
	FindClosedChangedSince(ctx context.Context, since time.Time) ([]*model.Deal, error)
}

type dealRepository struct {
	db *gorm.DB
}

// NewDealRepository 创建一个新的 DealRepository 实例。
func NewDealRepository(db *gorm.DB) DealRepository {
	return &dealRepository{db: db}
}

// FindByID 根据 ID 查找商机，并预加载关联的异议与沟通记录。
func (r *dealRepository) FindByID(ctx context.Context, id uint) (*model.Deal, error) {
	var deal model.Deal
	err := r.db.WithContext(ctx).
		Preload("Objections").
		Preload("Interactions").
		First(&deal, id).Error
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// FindClosedPage 分页查找已关闭的商机。
func (r *dealRepository) FindClosedPage(ctx context.Context, offset, limit int) ([]*model.Deal, error) {
	var deals []*model.Deal
	err := r.db.WithContext(ctx).
		Preload("Objections").
		Preload("Interactions").
		Where("stage IN ?", closedStages).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&deals).Error
	return deals, err
}

// FindClosedChangedSince 查找窗口内有变更的已关闭商机。
func (r *dealRepository) FindClosedChangedSince(ctx context.Context, since time.Time) ([]*model.Deal, error) {
	var deals []*model.Deal
	err := r.db.WithContext(ctx).
		Preload("Objections").
		Preload("Interactions").
		Where("stage IN ? AND updated_at >= ?", closedStages, since).
		Order("id ASC").
		Find(&deals).Error
	return deals, err
}
