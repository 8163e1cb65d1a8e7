package model

import "time"

// Deal 对应于数据库中的 deals 表（CRM 商机）。
// 本子系统对 CRM 实体只读，由外层 CRM 应用负责写入。
type Deal struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyName string     `gorm:"type:varchar(255);not null" json:"companyName"`
	Industry    string     `gorm:"type:varchar(100);index" json:"industry"`
	Value       float64    `gorm:"not null;default:0" json:"value"`
	Stage       string     `gorm:"type:varchar(50);not null;index" json:"stage"` // prospecting/qualification/proposal/negotiation/closed_won/closed_lost
	Notes       string     `gorm:"type:text" json:"notes"`
	UserID      uint       `gorm:"not null;index" json:"userId"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime;index" json:"updatedAt"`
	ClosedAt    *time.Time `gorm:"default:null" json:"closedAt"`

	Objections   []Objection   `gorm:"foreignKey:DealID" json:"objections,omitempty"`
	Interactions []Interaction `gorm:"foreignKey:DealID" json:"interactions,omitempty"`
}

func (Deal) TableName() string {
	return "deals"
}

// IsClosed 判断商机是否已关闭（进入可索引状态）。
func (d *Deal) IsClosed() bool {
	return d.Stage == "closed_won" || d.Stage == "closed_lost"
}

// Outcome 返回商机结果的可读标签。
func (d *Deal) Outcome() string {
	switch d.Stage {
	case "closed_won":
		return "won"
	case "closed_lost":
		return "lost"
	}
	return "open"
}

// DurationDays 返回商机从创建到关闭（或当前）的天数。
func (d *Deal) DurationDays() int {
	end := time.Now()
	if d.ClosedAt != nil {
		end = *d.ClosedAt
	}
	days := int(end.Sub(d.CreatedAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Objection 对应于数据库中的 objections 表（客户异议）。
type Objection struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DealID     uint      `gorm:"not null;index" json:"dealId"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	Response   string    `gorm:"type:text" json:"response"`
	Category   string    `gorm:"type:varchar(50);index" json:"category"` // price/timing/competitor/authority/need
	IsResolved bool      `gorm:"not null;default:false;index" json:"isResolved"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime;index" json:"updatedAt"`
}

func (Objection) TableName() string {
	return "objections"
}

// Interaction 对应于数据库中的 interactions 表（沟通记录）。
type Interaction struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	DealID     uint      `gorm:"not null;index" json:"dealId"`
	ContactID  uint      `gorm:"index" json:"contactId"`
	Type       string    `gorm:"type:varchar(50);not null" json:"type"` // call/email/meeting/demo
	Notes      string    `gorm:"type:text" json:"notes"`
	OccurredAt time.Time `gorm:"not null" json:"occurredAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime;index" json:"updatedAt"`
}

func (Interaction) TableName() string {
	return "interactions"
}

// Persona 对应于数据库中的 personas 表（AI 生成的买家画像）。
type Persona struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ContactID uint      `gorm:"not null;index" json:"contactId"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Industry  string    `gorm:"type:varchar(100)" json:"industry"`
	Summary   string    `gorm:"type:text;not null" json:"summary"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updatedAt"`
}

func (Persona) TableName() string {
	return "personas"
}
