package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"crm-copilot-go/internal/config"
	"crm-copilot-go/internal/repository"
	"crm-copilot-go/internal/vectorstore"
	"crm-copilot-go/pkg/log"
	"crm-copilot-go/pkg/tasks"

	"gorm.io/gorm"
)

// Indexer 封装了 RAG 索引管道的所有依赖和逻辑。
type Indexer struct {
	dealRepo        repository.DealRepository
	objectionRepo   repository.ObjectionRepository
	interactionRepo repository.InteractionRepository
	personaRepo     repository.PersonaRepository
	store           vectorstore.Store
	cfg             config.IndexingConfig
}

// NewIndexer 创建一个新的 Indexer 实例。
func NewIndexer(
	dealRepo repository.DealRepository,
	objectionRepo repository.ObjectionRepository,
	interactionRepo repository.InteractionRepository,
	personaRepo repository.PersonaRepository,
	store vectorstore.Store,
	cfg config.IndexingConfig,
) *Indexer {
	return &Indexer{
		dealRepo:        dealRepo,
		objectionRepo:   objectionRepo,
		interactionRepo: interactionRepo,
		personaRepo:     personaRepo,
		store:           store,
		cfg:             cfg,
	}
}

// IndexReport 汇总一次批量索引的结果。
type IndexReport struct {
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

type indexItem struct {
	id       string
	document string
	metadata map[string]interface{}
}

// IndexAll 对全部符合条件的 CRM 记录做全量索引：
// 已关闭的商机、已解决的异议、带纪要的沟通记录，分页读取后按批并发写入。
func (p *Indexer) IndexAll(ctx context.Context) (*IndexReport, error) {
	log.Info("[Indexer] 开始全量索引")
	report := &IndexReport{}

	// 步骤1: 已关闭的商机
	log.Info("[Indexer] 步骤1: 索引已关闭的商机")
	for offset := 0; ; offset += p.cfg.PageSize {
		deals, err := p.dealRepo.FindClosedPage(ctx, offset, p.cfg.PageSize)
		if err != nil {
			return report, fmt.Errorf("分页查询已关闭商机失败: %w", err)
		}
		if len(deals) == 0 {
			break
		}
		items := make([]indexItem, 0, len(deals))
		for _, deal := range deals {
			document, metadata := BuildDealContext(deal)
			items = append(items, indexItem{id: entityID(deal.ID), document: document, metadata: metadata})
		}
		p.indexBatches(ctx, vectorstore.CollectionDeals, items, report)
		if len(deals) < p.cfg.PageSize {
			break
		}
	}

	// 步骤2: 已解决的异议
	log.Info("[Indexer] 步骤2: 索引已解决的异议")
	for offset := 0; ; offset += p.cfg.PageSize {
		objections, err := p.objectionRepo.FindResolvedPage(ctx, offset, p.cfg.PageSize)
		if err != nil {
			return report, fmt.Errorf("分页查询已解决异议失败: %w", err)
		}
		if len(objections) == 0 {
			break
		}
		items := make([]indexItem, 0, len(objections))
		for _, objection := range objections {
			document, metadata := BuildObjectionContext(objection)
			items = append(items, indexItem{id: entityID(objection.ID), document: document, metadata: metadata})
		}
		p.indexBatches(ctx, vectorstore.CollectionObjections, items, report)
		if len(objections) < p.cfg.PageSize {
			break
		}
	}

	// 步骤3: 带纪要的沟通记录
	log.Info("[Indexer] 步骤3: 索引带纪要的沟通记录")
	for offset := 0; ; offset += p.cfg.PageSize {
		interactions, err := p.interactionRepo.FindWithNotesPage(ctx, offset, p.cfg.PageSize)
		if err != nil {
			return report, fmt.Errorf("分页查询沟通记录失败: %w", err)
		}
		if len(interactions) == 0 {
			break
		}
		items := make([]indexItem, 0, len(interactions))
		for _, interaction := range interactions {
			document, metadata := BuildInteractionContext(interaction)
			items = append(items, indexItem{id: entityID(interaction.ID), document: document, metadata: metadata})
		}
		p.indexBatches(ctx, vectorstore.CollectionInteractions, items, report)
		if len(interactions) < p.cfg.PageSize {
			break
		}
	}

	log.Infof("[Indexer] 全量索引完成, 成功: %d, 失败: %d", report.Indexed, report.Failed)
	return report, nil
}

// Reconcile 对尾随窗口内有变更的实体重放全量索引逻辑，
// 兜底修正因带外写入而漏掉的定向重索引。
func (p *Indexer) Reconcile(ctx context.Context, window time.Duration) (*IndexReport, error) {
	since := time.Now().Add(-window)
	log.Infof("[Indexer] 开始对账, 窗口起点: %s", since.Format(time.RFC3339))
	report := &IndexReport{}

	deals, err := p.dealRepo.FindClosedChangedSince(ctx, since)
	if err != nil {
		return report, fmt.Errorf("查询窗口内变更商机失败: %w", err)
	}
	dealItems := make([]indexItem, 0, len(deals))
	for _, deal := range deals {
		document, metadata := BuildDealContext(deal)
		dealItems = append(dealItems, indexItem{id: entityID(deal.ID), document: document, metadata: metadata})
	}
	p.indexBatches(ctx, vectorstore.CollectionDeals, dealItems, report)

	objections, err := p.objectionRepo.FindResolvedChangedSince(ctx, since)
	if err != nil {
		return report, fmt.Errorf("查询窗口内变更异议失败: %w", err)
	}
	objectionItems := make([]indexItem, 0, len(objections))
	for _, objection := range objections {
		document, metadata := BuildObjectionContext(objection)
		objectionItems = append(objectionItems, indexItem{id: entityID(objection.ID), document: document, metadata: metadata})
	}
	p.indexBatches(ctx, vectorstore.CollectionObjections, objectionItems, report)

	interactions, err := p.interactionRepo.FindWithNotesChangedSince(ctx, since)
	if err != nil {
		return report, fmt.Errorf("查询窗口内变更沟通记录失败: %w", err)
	}
	interactionItems := make([]indexItem, 0, len(interactions))
	for _, interaction := range interactions {
		document, metadata := BuildInteractionContext(interaction)
		interactionItems = append(interactionItems, indexItem{id: entityID(interaction.ID), document: document, metadata: metadata})
	}
	p.indexBatches(ctx, vectorstore.CollectionInteractions, interactionItems, report)

	log.Infof("[Indexer] 对账完成, 成功: %d, 失败: %d", report.Indexed, report.Failed)
	return report, nil
}

// ProcessChange 满足 kafka.EventProcessor 接口，按实体当前状态做定向重索引。
func (p *Indexer) ProcessChange(ctx context.Context, event tasks.EntityChangeEvent) error {
	switch event.EntityType {
	case tasks.EntityTypeDeal:
		return p.ReindexDeal(ctx, event.EntityID)
	case tasks.EntityTypeObjection:
		return p.ReindexObjection(ctx, event.EntityID)
	case tasks.EntityTypeInteraction:
		return p.ReindexInteraction(ctx, event.EntityID)
	case tasks.EntityTypePersona:
		return p.ReindexPersona(ctx, event.EntityID)
	}
	return fmt.Errorf("未知的实体类型: %q", event.EntityType)
}

// ReindexDeal 对单个商机做定向重索引：仍符合条件则覆盖写入，否则从集合删除。
// 例如商机从 closed_won 退回 negotiation 时，它的向量记录会被移除而不是留下陈旧数据。
func (p *Indexer) ReindexDeal(ctx context.Context, id uint) error {
	deal, err := p.dealRepo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return p.store.Delete(ctx, vectorstore.CollectionDeals, entityID(id))
		}
		return fmt.Errorf("查询商机 %d 失败: %w", id, err)
	}
	if !deal.IsClosed() {
		log.Infof("[Indexer] 商机 %d 不再符合索引条件 (stage=%s), 从集合删除", id, deal.Stage)
		return p.store.Delete(ctx, vectorstore.CollectionDeals, entityID(id))
	}
	document, metadata := BuildDealContext(deal)
	return p.store.Upsert(ctx, vectorstore.CollectionDeals, entityID(id), document, metadata)
}

// ReindexObjection 对单个异议做定向重索引。
func (p *Indexer) ReindexObjection(ctx context.Context, id uint) error {
	objection, err := p.objectionRepo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return p.store.Delete(ctx, vectorstore.CollectionObjections, entityID(id))
		}
		return fmt.Errorf("查询异议 %d 失败: %w", id, err)
	}
	if !objection.IsResolved {
		return p.store.Delete(ctx, vectorstore.CollectionObjections, entityID(id))
	}
	document, metadata := BuildObjectionContext(objection)
	return p.store.Upsert(ctx, vectorstore.CollectionObjections, entityID(id), document, metadata)
}

// ReindexInteraction 对单条沟通记录做定向重索引。
func (p *Indexer) ReindexInteraction(ctx context.Context, id uint) error {
	interaction, err := p.interactionRepo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return p.store.Delete(ctx, vectorstore.CollectionInteractions, entityID(id))
		}
		return fmt.Errorf("查询沟通记录 %d 失败: %w", id, err)
	}
	if interaction.Notes == "" {
		return p.store.Delete(ctx, vectorstore.CollectionInteractions, entityID(id))
	}
	document, metadata := BuildInteractionContext(interaction)
	return p.store.Upsert(ctx, vectorstore.CollectionInteractions, entityID(id), document, metadata)
}

// ReindexPersona 对单个买家画像做定向重索引。
func (p *Indexer) ReindexPersona(ctx context.Context, id uint) error {
	persona, err := p.personaRepo.FindByID(ctx, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return p.store.Delete(ctx, vectorstore.CollectionPersonas, entityID(id))
		}
		return fmt.Errorf("查询画像 %d 失败: %w", id, err)
	}
	document, metadata := BuildPersonaContext(persona)
	return p.store.Upsert(ctx, vectorstore.CollectionPersonas, entityID(id), document, metadata)
}

// indexBatches 把条目切分为固定大小的批次顺序处理；
// 批内并发写入并逐条收敛结果，单条失败只记录日志，不中断批次或整体流程。
func (p *Indexer) indexBatches(ctx context.Context, collection vectorstore.Collection, items []indexItem, report *IndexReport) {
	for start := 0; start < len(items); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				item := batch[i]
				errs[i] = p.store.Upsert(ctx, collection, item.id, item.document, item.metadata)
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				report.Failed++
				log.Errorf("[Indexer] 索引记录失败 (collection=%s, id=%s): %v", collection, batch[i].id, err)
				continue
			}
			report.Indexed++
		}
	}
}

func entityID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
