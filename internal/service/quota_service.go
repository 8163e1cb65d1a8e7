package service

import (
	"context"
	"time"

	"crm-copilot-go/internal/model"
	"crm-copilot-go/internal/repository"
	"crm-copilot-go/pkg/log"
)

// 参与配额计数的审计状态。
var quotaStatuses = []string{model.AuditStatusCompleted, model.AuditStatusPending}

// QuotaService 定义了每用户每日请求配额的操作接口。
// 权威判定基于审计日志按自然日计数，新的一天 used 天然归零，
// 持久化的 UserQuota.Used 只是成功后递增的次级信号。
type QuotaService interface {
	// CheckLimit 判断用户当日是否还有剩余配额。计数查询出错时拒绝请求（fail-closed）。
	CheckLimit(ctx context.Context, userID uint) (bool, error)
	// RecordUsage 在成功响应后递增持久化的用量计数。
	RecordUsage(ctx context.Context, userID uint) error
}

type quotaService struct {
	auditRepo    repository.AuditLogRepository
	quotaRepo    repository.QuotaRepository
	defaultLimit int
	now          func() time.Time
}

// NewQuotaService 创建一个新的 QuotaService 实例。
func NewQuotaService(auditRepo repository.AuditLogRepository, quotaRepo repository.QuotaRepository, defaultLimit int) QuotaService {
	return &quotaService{
		auditRepo:    auditRepo,
		quotaRepo:    quotaRepo,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// CheckLimit 统计当日 00:00（本地时间）以来的已完成/处理中请求数并与限额比较。
func (s *quotaService) CheckLimit(ctx context.Context, userID uint) (bool, error) {
	limit := s.defaultLimit
	quota, err := s.quotaRepo.GetOrCreate(ctx, userID, s.defaultLimit)
	if err != nil {
		// 配额记录读不到时继续使用默认限额，权威计数仍由审计日志决定
		log.Warnf("[QuotaService] 读取用户 %d 配额记录失败，使用默认限额: %v", userID, err)
	} else if quota.Limit > 0 {
		limit = quota.Limit
	}

	midnight := s.midnight()
	used, err := s.auditRepo.CountForUserSince(ctx, userID, midnight, quotaStatuses)
	if err != nil {
		// fail-closed：计数查询失败时拒绝请求，避免成本敞口
		log.Errorf("[QuotaService] 统计用户 %d 当日用量失败，按超额处理: %v", userID, err)
		return false, err
	}

	return used < int64(limit), nil
}

// RecordUsage 递增持久化计数；跨天时先清零再递增。
func (s *quotaService) RecordUsage(ctx context.Context, userID uint) error {
	quota, err := s.quotaRepo.GetOrCreate(ctx, userID, s.defaultLimit)
	if err != nil {
		return err
	}
	if quota.LastReset.Before(s.midnight()) {
		if err := s.quotaRepo.ResetUsage(ctx, userID); err != nil {
			return err
		}
	}
	return s.quotaRepo.IncrementUsage(ctx, userID)
}

func (s *quotaService) midnight() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
