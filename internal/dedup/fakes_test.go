package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/vector"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// fakeAI routes GenerateJSON responses by purpose and returns fixed
// embeddings. Set err fields to force failures.
type fakeAI struct {
	embedErr      error
	embedCalls    int
	jsonByPurpose map[string]json.RawMessage
	jsonErr       error
	jsonCalls     []string
}

func (f *fakeAI) Embed(ctx context.Context, purpose string, inputs []string) ([][]float32, error) {
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, purpose, system, user, schemaName string, schema map[string]any) (json.RawMessage, error) {
	f.jsonCalls = append(f.jsonCalls, purpose)
	if f.jsonErr != nil {
		return nil, f.jsonErr
	}
	raw, ok := f.jsonByPurpose[purpose]
	if !ok {
		return nil, fmt.Errorf("no canned response for purpose %q", purpose)
	}
	return raw, nil
}

type fakeVectorStore struct {
	matches  []vector.Match
	queryErr error
	queries  int
	upserts  [][]vector.Vector
}

func (f *fakeVectorStore) Upsert(ctx context.Context, namespace string, vectors []vector.Vector) error {
	f.upserts = append(f.upserts, vectors)
	return nil
}

func (f *fakeVectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]string) ([]vector.Match, error) {
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.matches) > topK {
		return f.matches[:topK], nil
	}
	return f.matches, nil
}

func (f *fakeVectorStore) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	return nil
}

type memArtifactRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Artifact
}

func newMemArtifactRepo() *memArtifactRepo {
	return &memArtifactRepo{rows: map[uuid.UUID]*types.Artifact{}}
}

func (m *memArtifactRepo) Create(ctx context.Context, tx *gorm.DB, artifact *types.Artifact) (*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	if artifact.NameKey == "" {
		artifact.NameKey = types.NameKeyOf(artifact.Name)
	}
	for _, row := range m.rows {
		if row.CampaignID == artifact.CampaignID && row.NameKey == artifact.NameKey {
			return nil, fmt.Errorf("duplicate name key %q", artifact.NameKey)
		}
	}
	clone := *artifact
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	m.rows[clone.ID] = &clone
	return &clone, nil
}

func (m *memArtifactRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (m *memArtifactRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Artifact
	for _, id := range ids {
		if row, ok := m.rows[id]; ok {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memArtifactRepo) GetByNameKey(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, nameKey string) (*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.CampaignID == campaignID && row.NameKey == nameKey {
			clone := *row
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memArtifactRepo) CountByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

func (m *memArtifactRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Artifact
	for _, row := range m.rows {
		if row.CampaignID == campaignID {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memArtifactRepo) ListBySourceNote(ctx context.Context, tx *gorm.DB, campaignID, noteID uuid.UUID) ([]*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Artifact
	for _, row := range m.rows {
		if row.CampaignID == campaignID && types.ContainsNoteID(types.DecodeNoteIDs(row.SourceNoteIDs), noteID) {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memArtifactRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	for key, value := range updates {
		switch key {
		case "source_note_ids":
			row.SourceNoteIDs = value.(datatypes.JSON)
		case "description":
			row.Description = value.(string)
		case "short_description":
			row.ShortDescription = value.(string)
		case "updated_at":
			row.UpdatedAt = value.(time.Time)
		}
	}
	return nil
}

type memProposalRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.MergeProposal
}

func newMemProposalRepo() *memProposalRepo {
	return &memProposalRepo{rows: map[uuid.UUID]*types.MergeProposal{}}
}

func (m *memProposalRepo) Create(ctx context.Context, tx *gorm.DB, proposal *types.MergeProposal) (*types.MergeProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if proposal.ID == uuid.Nil {
		proposal.ID = uuid.New()
	}
	if proposal.Status == "" {
		proposal.Status = types.ProposalPending
	}
	clone := *proposal
	m.rows[clone.ID] = &clone
	return &clone, nil
}

func (m *memProposalRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MergeProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (m *memProposalRepo) ListPendingByNote(ctx context.Context, tx *gorm.DB, noteID uuid.UUID) ([]*types.MergeProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.MergeProposal
	for _, row := range m.rows {
		if row.NoteID == noteID && row.Status == types.ProposalPending {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memProposalRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to types.ProposalStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	return true, nil
}

type memRelationshipRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Relationship
}

func newMemRelationshipRepo() *memRelationshipRepo {
	return &memRelationshipRepo{rows: map[uuid.UUID]*types.Relationship{}}
}

func (m *memRelationshipRepo) Create(ctx context.Context, tx *gorm.DB, rel *types.Relationship) (*types.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	clone := *rel
	m.rows[clone.ID] = &clone
	return &clone, nil
}

func (m *memRelationshipRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (m *memRelationshipRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Relationship
	for _, id := range ids {
		if row, ok := m.rows[id]; ok {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memRelationshipRepo) FindByEndpoints(ctx context.Context, tx *gorm.DB, campaignID, sourceID, targetID uuid.UUID, label string) (*types.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.CampaignID == campaignID &&
			row.SourceArtifactID == sourceID &&
			row.TargetArtifactID == targetID &&
			types.NameKeyOf(row.Label) == types.NameKeyOf(label) {
			clone := *row
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memRelationshipRepo) ListByEndpoints(ctx context.Context, tx *gorm.DB, campaignID, sourceID, targetID uuid.UUID) ([]*types.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Relationship
	for _, row := range m.rows {
		if row.CampaignID == campaignID &&
			row.SourceArtifactID == sourceID &&
			row.TargetArtifactID == targetID {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memRelationshipRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Relationship
	for _, row := range m.rows {
		if row.CampaignID == campaignID {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memRelationshipRepo) ListBySourceNote(ctx context.Context, tx *gorm.DB, campaignID, noteID uuid.UUID) ([]*types.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Relationship
	for _, row := range m.rows {
		if row.CampaignID == campaignID && types.ContainsNoteID(types.DecodeNoteIDs(row.SourceNoteIDs), noteID) {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memRelationshipRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	for key, value := range updates {
		switch key {
		case "source_note_ids":
			row.SourceNoteIDs = value.(datatypes.JSON)
		case "description":
			row.Description = value.(string)
		case "updated_at":
			row.UpdatedAt = value.(time.Time)
		}
	}
	return nil
}
