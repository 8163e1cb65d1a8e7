package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"crm-copilot-go/internal/config"
	"crm-copilot-go/internal/model"
	"crm-copilot-go/internal/vectorstore"
	"crm-copilot-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeStore 记录写入与删除，并支持对指定 id 注入失败。
type fakeStore struct {
	mu      sync.Mutex
	records map[vectorstore.Collection]map[string]string
	deleted []string
	failIDs map[string]bool
}

func newFakeStore() *fakeStore {
	records := make(map[vectorstore.Collection]map[string]string)
	for _, c := range vectorstore.AllCollections {
		records[c] = make(map[string]string)
	}
	return &fakeStore{records: records, failIDs: make(map[string]bool)}
}

func (s *fakeStore) Upsert(ctx context.Context, collection vectorstore.Collection, id, document string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[id] {
		return errors.New("embedding service down")
	}
	s.records[collection][id] = document
	return nil
}

func (s *fakeStore) Query(ctx context.Context, collection vectorstore.Collection, text string, topK int, filter map[string]interface{}) ([]vectorstore.SimilarityResult, error) {
	return nil, nil
}

func (s *fakeStore) Delete(ctx context.Context, collection vectorstore.Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[collection], id)
	s.deleted = append(s.deleted, fmt.Sprintf("%s/%s", collection, id))
	return nil
}

func (s *fakeStore) Stats(ctx context.Context, collection vectorstore.Collection) (*vectorstore.CollectionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &vectorstore.CollectionStats{Collection: collection, Count: int64(len(s.records[collection]))}, nil
}

type fakeDealRepo struct {
	deals map[uint]*model.Deal
}

func (r *fakeDealRepo) FindByID(ctx context.Context, id uint) (*model.Deal, error) {
	if deal, ok := r.deals[id]; ok {
		return deal, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeDealRepo) FindClosedPage(ctx context.Context, offset, limit int) ([]*model.Deal, error) {
	closed := make([]*model.Deal, 0, len(r.deals))
	for _, deal := range r.deals {
		if deal.IsClosed() {
			closed = append(closed, deal)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ID < closed[j].ID })
	if offset >= len(closed) {
		return nil, nil
	}
	end := offset + limit
	if end > len(closed) {
		end = len(closed)
	}
	return closed[offset:end], nil
}

func (r *fakeDealRepo) FindClosedChangedSince(ctx context.Context, since time.Time) ([]*model.Deal, error) {
	changed := make([]*model.Deal, 0)
	for _, deal := range r.deals {
		if deal.IsClosed() && !deal.UpdatedAt.Before(since) {
			changed = append(changed, deal)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
	return changed, nil
}

type fakeObjectionRepo struct {
	objections map[uint]*model.Objection
}

func (r *fakeObjectionRepo) FindByID(ctx context.Context, id uint) (*model.Objection, error) {
	if o, ok := r.objections[id]; ok {
		return o, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeObjectionRepo) FindResolvedPage(ctx context.Context, offset, limit int) ([]*model.Objection, error) {
	resolved := make([]*model.Objection, 0)
	for _, o := range r.objections {
		if o.IsResolved {
			resolved = append(resolved, o)
		}
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].ID < resolved[j].ID })
	if offset >= len(resolved) {
		return nil, nil
	}
	end := offset + limit
	if end > len(resolved) {
		end = len(resolved)
	}
	return resolved[offset:end], nil
}

func (r *fakeObjectionRepo) FindResolvedChangedSince(ctx context.Context, since time.Time) ([]*model.Objection, error) {
	return nil, nil
}

type fakeInteractionRepo struct {
	interactions map[uint]*model.Interaction
}

func (r *fakeInteractionRepo) FindByID(ctx context.Context, id uint) (*model.Interaction, error) {
	if it, ok := r.interactions[id]; ok {
		return it, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeInteractionRepo) FindWithNotesPage(ctx context.Context, offset, limit int) ([]*model.Interaction, error) {
	withNotes := make([]*model.Interaction, 0)
	for _, it := range r.interactions {
		if it.Notes != "" {
			withNotes = append(withNotes, it)
		}
	}
	sort.Slice(withNotes, func(i, j int) bool { return withNotes[i].ID < withNotes[j].ID })
	if offset >= len(withNotes) {
		return nil, nil
	}
	end := offset + limit
	if end > len(withNotes) {
		end = len(withNotes)
	}
	return withNotes[offset:end], nil
}

func (r *fakeInteractionRepo) FindWithNotesChangedSince(ctx context.Context, since time.Time) ([]*model.Interaction, error) {
	return nil, nil
}

type fakePersonaRepo struct {
	personas map[uint]*model.Persona
}

func (r *fakePersonaRepo) FindByID(ctx context.Context, id uint) (*model.Persona, error) {
	if p, ok := r.personas[id]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type indexerFixture struct {
	deals        *fakeDealRepo
	objections   *fakeObjectionRepo
	interactions *fakeInteractionRepo
	personas     *fakePersonaRepo
	store        *fakeStore
	indexer      *Indexer
}

func newIndexerFixture() *indexerFixture {
	f := &indexerFixture{
		deals:        &fakeDealRepo{deals: make(map[uint]*model.Deal)},
		objections:   &fakeObjectionRepo{objections: make(map[uint]*model.Objection)},
		interactions: &fakeInteractionRepo{interactions: make(map[uint]*model.Interaction)},
		personas:     &fakePersonaRepo{personas: make(map[uint]*model.Persona)},
		store:        newFakeStore(),
	}
	cfg := config.IndexingConfig{BatchSize: 10, PageSize: 100}
	f.indexer = NewIndexer(f.deals, f.objections, f.interactions, f.personas, f.store, cfg)
	return f
}

func closedDeal(id uint) *model.Deal {
	return &model.Deal{
		ID:          id,
		CompanyName: fmt.Sprintf("Company %d", id),
		Industry:    "saas",
		Value:       50000,
		Stage:       "closed_won",
		UpdatedAt:   time.Now(),
	}
}

func TestIndexAll(t *testing.T) {
	f := newIndexerFixture()
	f.deals.deals[1] = closedDeal(1)
	f.deals.deals[2] = closedDeal(2)
	f.deals.deals[3] = &model.Deal{ID: 3, CompanyName: "Open Co", Stage: "negotiation"}
	f.objections.objections[10] = &model.Objection{ID: 10, DealID: 1, Text: "too expensive", Category: "price", IsResolved: true}
	f.objections.objections[11] = &model.Objection{ID: 11, DealID: 2, Text: "need approval", Category: "authority", IsResolved: false}
	f.interactions.interactions[20] = &model.Interaction{ID: 20, DealID: 1, Type: "call", Notes: "discussed pricing", OccurredAt: time.Now()}
	f.interactions.interactions[21] = &model.Interaction{ID: 21, DealID: 2, Type: "email", Notes: "", OccurredAt: time.Now()}

	report, err := f.indexer.IndexAll(context.Background())
	require.NoError(t, err)

	// 未关闭的商机、未解决的异议、空纪要的沟通记录不进入向量库
	assert.Equal(t, 4, report.Indexed)
	assert.Equal(t, 0, report.Failed)
	assert.Len(t, f.store.records[vectorstore.CollectionDeals], 2)
	assert.Len(t, f.store.records[vectorstore.CollectionObjections], 1)
	assert.Len(t, f.store.records[vectorstore.CollectionInteractions], 1)
}

func TestIndexAll_BatchIsolation(t *testing.T) {
	f := newIndexerFixture()
	for i := uint(1); i <= 25; i++ {
		f.deals.deals[i] = closedDeal(i)
	}
	// 批内单条失败不中断批次或整体流程
	f.store.failIDs["7"] = true
	f.store.failIDs["19"] = true

	report, err := f.indexer.IndexAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 23, report.Indexed)
	assert.Equal(t, 2, report.Failed)
	assert.Len(t, f.store.records[vectorstore.CollectionDeals], 23)
}

func TestIndexAll_Pagination(t *testing.T) {
	f := newIndexerFixture()
	cfg := config.IndexingConfig{BatchSize: 10, PageSize: 7}
	f.indexer = NewIndexer(f.deals, f.objections, f.interactions, f.personas, f.store, cfg)
	for i := uint(1); i <= 20; i++ {
		f.deals.deals[i] = closedDeal(i)
	}

	report, err := f.indexer.IndexAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 20, report.Indexed)
	assert.Len(t, f.store.records[vectorstore.CollectionDeals], 20)
}

func TestReindexDeal(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	t.Run("已关闭商机覆盖写入", func(t *testing.T) {
		f.deals.deals[1] = closedDeal(1)
		require.NoError(t, f.indexer.ReindexDeal(ctx, 1))
		assert.Contains(t, f.store.records[vectorstore.CollectionDeals], "1")
	})

	t.Run("商机重新打开后从集合删除", func(t *testing.T) {
		f.deals.deals[1].Stage = "negotiation"
		require.NoError(t, f.indexer.ReindexDeal(ctx, 1))
		assert.NotContains(t, f.store.records[vectorstore.CollectionDeals], "1")
	})

	t.Run("商机已删除时清理向量记录", func(t *testing.T) {
		require.NoError(t, f.indexer.ReindexDeal(ctx, 99))
		assert.Contains(t, f.store.deleted, "deals/99")
	})
}

func TestReindexObjection(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	f.objections.objections[10] = &model.Objection{ID: 10, DealID: 1, Text: "too expensive", Category: "price", IsResolved: true}
	require.NoError(t, f.indexer.ReindexObjection(ctx, 10))
	assert.Contains(t, f.store.records[vectorstore.CollectionObjections], "10")

	// 异议被标记为未解决后移除
	f.objections.objections[10].IsResolved = false
	require.NoError(t, f.indexer.ReindexObjection(ctx, 10))
	assert.NotContains(t, f.store.records[vectorstore.CollectionObjections], "10")
}

func TestReindexInteraction(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	f.interactions.interactions[20] = &model.Interaction{ID: 20, DealID: 1, Type: "call", Notes: "good call", OccurredAt: time.Now()}
	require.NoError(t, f.indexer.ReindexInteraction(ctx, 20))
	assert.Contains(t, f.store.records[vectorstore.CollectionInteractions], "20")

	f.interactions.interactions[20].Notes = ""
	require.NoError(t, f.indexer.ReindexInteraction(ctx, 20))
	assert.NotContains(t, f.store.records[vectorstore.CollectionInteractions], "20")
}

func TestReindexPersona(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()

	f.personas.personas[30] = &model.Persona{ID: 30, ContactID: 5, Title: "VP Engineering", Industry: "saas", Summary: "technical buyer"}
	require.NoError(t, f.indexer.ReindexPersona(ctx, 30))
	assert.Contains(t, f.store.records[vectorstore.CollectionPersonas], "30")

	delete(f.personas.personas, 30)
	require.NoError(t, f.indexer.ReindexPersona(ctx, 30))
	assert.NotContains(t, f.store.records[vectorstore.CollectionPersonas], "30")
}

func TestProcessChange(t *testing.T) {
	f := newIndexerFixture()
	ctx := context.Background()
	f.deals.deals[1] = closedDeal(1)
	f.personas.personas[30] = &model.Persona{ID: 30, ContactID: 5, Title: "CTO", Industry: "fintech", Summary: "budget holder"}

	require.NoError(t, f.indexer.ProcessChange(ctx, tasks.EntityChangeEvent{EntityType: tasks.EntityTypeDeal, EntityID: 1}))
	assert.Contains(t, f.store.records[vectorstore.CollectionDeals], "1")

	require.NoError(t, f.indexer.ProcessChange(ctx, tasks.EntityChangeEvent{EntityType: tasks.EntityTypePersona, EntityID: 30}))
	assert.Contains(t, f.store.records[vectorstore.CollectionPersonas], "30")

	err := f.indexer.ProcessChange(ctx, tasks.EntityChangeEvent{EntityType: "unknown", EntityID: 1})
	assert.Error(t, err)
}

func TestReconcile(t *testing.T) {
	f := newIndexerFixture()

	recent := closedDeal(1)
	stale := closedDeal(2)
	stale.UpdatedAt = time.Now().Add(-48 * time.Hour)
	f.deals.deals[1] = recent
	f.deals.deals[2] = stale

	report, err := f.indexer.Reconcile(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	// 只有窗口内有变更的实体被重放
	assert.Equal(t, 1, report.Indexed)
	assert.Contains(t, f.store.records[vectorstore.CollectionDeals], "1")
	assert.NotContains(t, f.store.records[vectorstore.CollectionDeals], "2")
}
