package repository

import (
	"context"

	"crm-copilot-go/internal/model"

	"gorm.io/gorm"
)

// PersonaRepository 定义了对 personas 表的只读数据操作接口。
// 画像由 AI 功能生成后写入 CRM，变更事件触发定向重索引。
type PersonaRepository interface {
	FindByID(ctx context.Context, id uint) (*model.Persona, error)
}

type personaRepository struct {
	db *gorm.DB
}

// NewPersonaRepository 创建一个新的 PersonaRepository 实例。
func NewPersonaRepository(db *gorm.DB) PersonaRepository {
	return &personaRepository{db: db}
}

func (r *personaRepository) FindByID(ctx context.Context, id uint) (*model.Persona, error) {
	var persona model.Persona
	if err := r.db.WithContext(ctx).First(&persona, id).Error; err != nil {
		return nil, err
	}
	return &persona, nil
}
