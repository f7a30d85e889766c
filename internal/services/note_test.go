package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tavernfall/loreweave-backend/internal/dedup"
	"github.com/tavernfall/loreweave-backend/internal/extraction"
	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/pipeline"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/vector"
	"github.com/tavernfall/loreweave-backend/internal/repos"
	notesync "github.com/tavernfall/loreweave-backend/internal/sync"
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

type fakeAI struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
}

func (f *fakeAI) Embed(ctx context.Context, purpose string, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeAI) GenerateJSON(ctx context.Context, purpose, system, user, schemaName string, schema map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.responses[schemaName]
	if !ok {
		return nil, fmt.Errorf("no response configured for schema %q", schemaName)
	}
	return raw, nil
}

type fakeVectorStore struct {
	mu      sync.Mutex
	upserts int
}

func (f *fakeVectorStore) Upsert(ctx context.Context, namespace string, vectors []vector.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	return nil
}

func (f *fakeVectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]string) ([]vector.Match, error) {
	return nil, nil
}

func (f *fakeVectorStore) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	return nil
}

func (f *fakeVectorStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

type memCampaignRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Campaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{rows: map[uuid.UUID]*types.Campaign{}}
}

func (m *memCampaignRepo) Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) (*types.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	clone := *campaign
	m.rows[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (m *memCampaignRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

type memNoteRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Note
}

func newMemNoteRepo() *memNoteRepo {
	return &memNoteRepo{rows: map[uuid.UUID]*types.Note{}}
}

func (m *memNoteRepo) Create(ctx context.Context, tx *gorm.DB, note *types.Note) (*types.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	if note.ProcessingStatus == "" {
		note.ProcessingStatus = types.ProcessingPending
	}
	if note.QdrantSyncStatus == "" {
		note.QdrantSyncStatus = types.SyncPending
	}
	if note.GraphSyncStatus == "" {
		note.GraphSyncStatus = types.SyncPending
	}
	clone := *note
	m.rows[clone.ID] = &clone
	out := clone
	return &out, nil
}

func (m *memNoteRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (m *memNoteRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Note
	for _, id := range ids {
		if row, ok := m.rows[id]; ok {
			clone := *row
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memNoteRepo) SetProcessingStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status types.ProcessingStatus, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.ProcessingStatus = status
	row.ProcessingError = errText
	return nil
}

func (m *memNoteRepo) SetSyncStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, store repos.SyncStore, status types.SyncStatus, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	current := row.QdrantSyncStatus
	if store == repos.StoreGraph {
		current = row.GraphSyncStatus
	}
	if !current.CanTransition(status) {
		return apperrors.ErrInvalidArgument
	}
	if store == repos.StoreQdrant {
		row.QdrantSyncStatus = status
		row.QdrantSyncError = errText
	} else {
		row.GraphSyncStatus = status
		row.GraphSyncError = errText
	}
	return nil
}

func (m *memNoteRepo) ListSyncBacklog(ctx context.Context, tx *gorm.DB, store repos.SyncStore, maxAttempts int, staleSyncing time.Duration, limit int) ([]*types.Note, error) {
	return nil, nil
}

func (m *memNoteRepo) RequeueErrored(ctx context.Context, tx *gorm.DB, store repos.SyncStore, maxAttempts int, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (m *memNoteRepo) MarkForResync(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if row.QdrantSyncStatus == types.SyncSynced || row.QdrantSyncStatus == types.SyncError {
		row.QdrantSyncStatus = types.SyncPending
		row.QdrantSyncError = ""
	}
	if row.GraphSyncStatus == types.SyncSynced || row.GraphSyncStatus == types.SyncError {
		row.GraphSyncStatus = types.SyncPending
		row.GraphSyncError = ""
	}
	return nil
}

func (m *memNoteRepo) ListProcessingBacklog(ctx context.Context, tx *gorm.DB, stuckAfter time.Duration, limit int) ([]*types.Note, error) {
	return nil, nil
}

func (m *memNoteRepo) RecordProcessingOutcome(ctx context.Context, tx *gorm.DB, id uuid.UUID, summary, rejected datatypes.JSON) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.DedupSummary = summary
	row.RejectedRelationships = rejected
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
	for _, row := range m.rows {
		if row.CampaignID == artifact.CampaignID && row.NameKey == artifact.NameKey {
			return nil, fmt.Errorf("duplicate name key %q", artifact.NameKey)
		}
	}
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	clone := *artifact
	m.rows[clone.ID] = &clone
	out := clone
	return &out, nil
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
		if row.CampaignID == campaignID && types.ContainsNoteID(row.SourceNotes(), noteID) {
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
		}
	}
	return nil
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
	out := clone
	return &out, nil
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
		if row.CampaignID == campaignID && types.ContainsNoteID(row.SourceNotes(), noteID) {
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
	clone := *proposal
	m.rows[clone.ID] = &clone
	out := clone
	return &out, nil
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
	if !ok {
		return false, apperrors.ErrNotFound
	}
	if row.Status != from {
		return false, nil
	}
	row.Status = to
	return true, nil
}

type serviceFixture struct {
	service       NoteService
	ai            *fakeAI
	store         *fakeVectorStore
	coordinator   *notesync.Coordinator
	campaigns     *memCampaignRepo
	notes         *memNoteRepo
	artifacts     *memArtifactRepo
	relationships *memRelationshipRepo
	proposals     *memProposalRepo
	campaignID    uuid.UUID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	log := testLogger(t)

	f := &serviceFixture{
		ai:            &fakeAI{responses: map[string]json.RawMessage{}},
		store:         &fakeVectorStore{},
		campaigns:     newMemCampaignRepo(),
		notes:         newMemNoteRepo(),
		artifacts:     newMemArtifactRepo(),
		relationships: newMemRelationshipRepo(),
		proposals:     newMemProposalRepo(),
	}
	campaign, err := f.campaigns.Create(context.Background(), nil, &types.Campaign{Name: "Dragonfall"})
	if err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	f.campaignID = campaign.ID

	cfg := dedup.DefaultConfig()
	extractor := extraction.NewExtractor(f.ai, log)
	retriever := dedup.NewRetriever(cfg, f.ai, f.store, f.artifacts, log)
	resolver := dedup.NewResolver(f.artifacts, f.relationships, f.proposals, log)
	engine := dedup.NewEngine(cfg, f.ai, retriever, resolver, f.artifacts, f.relationships, f.proposals, log)

	syncCfg := notesync.Config{
		MaxAttempts:     5,
		RetryDelay:      30 * time.Second,
		StaleSyncing:    5 * time.Minute,
		StuckProcessing: 5 * time.Minute,
		CallTimeout:     5 * time.Second,
		SweepInterval:   time.Minute,
	}
	f.coordinator = notesync.NewCoordinator(syncCfg, f.notes, f.artifacts, f.relationships, f.ai, f.store, nil, nil, log)

	pool := pipeline.NewPool(pipeline.PoolConfig{Baseline: 1, Burst: 1, QueueDepth: 4, DrainTimeout: 5 * time.Second}, log)
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Shutdown() })

	locks := pipeline.NewCampaignLocks()
	pipe := pipeline.New(
		pool, locks, extractor, engine, f.coordinator,
		f.notes, f.artifacts, f.relationships, f.proposals, nil, log,
	)
	f.service = NewNoteService(f.notes, f.campaigns, f.proposals, f.artifacts, resolver, pipe, f.coordinator, locks, log)
	return f
}

// waitForStatus polls until the note reaches the wanted processing status
// or the deadline passes. Processing runs on the pool's goroutines.
func (f *serviceFixture) waitForStatus(t *testing.T, noteID uuid.UUID, want types.ProcessingStatus) *types.Note {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		note, err := f.notes.GetByID(context.Background(), nil, noteID)
		if err != nil {
			t.Fatalf("get note: %v", err)
		}
		if note.ProcessingStatus == want {
			return note
		}
		time.Sleep(5 * time.Millisecond)
	}
	note, _ := f.notes.GetByID(context.Background(), nil, noteID)
	t.Fatalf("status: want=%s got=%s (err=%s)", want, note.ProcessingStatus, note.ProcessingError)
	return nil
}

func (f *serviceFixture) seedCompletedNote(t *testing.T) *types.Note {
	t.Helper()
	note, err := f.notes.Create(context.Background(), nil, &types.Note{
		CampaignID:       f.campaignID,
		Title:            "Session 2",
		Content:          "Grag of the North arrives.",
		ProcessingStatus: types.ProcessingCompleted,
	})
	if err != nil {
		t.Fatalf("seed note: %v", err)
	}
	return note
}

func (f *serviceFixture) seedPendingProposal(t *testing.T, noteID, existingID uuid.UUID) *types.MergeProposal {
	t.Helper()
	payload, err := json.Marshal(extraction.ExtractedArtifact{
		Name:        "Grag of the North",
		Category:    types.CategoryCharacter,
		Description: "a northern dwarf",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	proposal, err := f.proposals.Create(context.Background(), nil, &types.MergeProposal{
		CampaignID:   f.campaignID,
		NoteID:       noteID,
		ProposalType: types.ProposalArtifact,
		NewItem:      payload,
		ExistingID:   existingID,
		Confidence:   70,
		Status:       types.ProposalPending,
	})
	if err != nil {
		t.Fatalf("seed proposal: %v", err)
	}
	return proposal
}

func TestCreateNoteValidation(t *testing.T) {
	f := newServiceFixture(t)

	longContent := strings.Repeat("word ", types.MaxNoteWords+1)
	cases := []struct {
		name  string
		input CreateNoteInput
		field string
	}{
		{"missing title", CreateNoteInput{Content: "something happened"}, "title"},
		{"missing content", CreateNoteInput{Title: "Session 1"}, "content"},
		{"over word limit", CreateNoteInput{Title: "Session 1", Content: longContent}, "content"},
		{"override without reason", CreateNoteInput{Title: "Session 1", Content: "c", Override: true}, "overrideReason"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.service.CreateNote(context.Background(), f.campaignID, c.input)
			var validationErr *apperrors.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("want=ValidationError got=%v", err)
			}
			if validationErr.Field != c.field {
				t.Fatalf("field: want=%s got=%s", c.field, validationErr.Field)
			}
		})
	}
}

func TestCreateNoteUnknownCampaign(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.CreateNote(context.Background(), uuid.New(), CreateNoteInput{Title: "t", Content: "c"})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("want=ErrNotFound got=%v", err)
	}
}

func TestCreateNotePersistsAndEnqueues(t *testing.T) {
	f := newServiceFixture(t)
	f.ai.responses["note_artifacts"] = json.RawMessage(`{"artifacts": []}`)

	note, err := f.service.CreateNote(context.Background(), f.campaignID, CreateNoteInput{
		Title:   "Session 1",
		Content: "the party arrived at the inn",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if note.WordCount != 6 {
		t.Fatalf("word count: want=6 got=%d", note.WordCount)
	}
	if _, err := f.notes.GetByID(context.Background(), nil, note.ID); err != nil {
		t.Fatalf("note not persisted: %v", err)
	}
}

func TestGetNoteEnforcesCampaignScope(t *testing.T) {
	f := newServiceFixture(t)
	note := f.seedCompletedNote(t)

	if _, err := f.service.GetNote(context.Background(), f.campaignID, note.ID); err != nil {
		t.Fatalf("own campaign: %v", err)
	}
	if _, err := f.service.GetNote(context.Background(), uuid.New(), note.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("foreign campaign: want=ErrNotFound got=%v", err)
	}
}

func TestConfirmDeduplicationApproveMerges(t *testing.T) {
	f := newServiceFixture(t)
	existing, err := f.artifacts.Create(context.Background(), nil, &types.Artifact{
		CampaignID:    f.campaignID,
		Name:          "Grag the Bold",
		NameKey:       types.NameKeyOf("Grag the Bold"),
		Category:      types.CategoryCharacter,
		Description:   "a dwarf fighter",
		SourceNoteIDs: types.EncodeNoteIDs([]uuid.UUID{uuid.New()}),
	})
	if err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	note := f.seedCompletedNote(t)
	proposal := f.seedPendingProposal(t, note.ID, existing.ID)
	f.ai.responses["note_relationships"] = json.RawMessage(`{"relationships": []}`)

	result, err := f.service.ConfirmDeduplication(context.Background(), f.campaignID, note.ID, []uuid.UUID{proposal.ID})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if result.RequiresUserConfirmation {
		t.Fatalf("confirmation still required after settling")
	}
	if count, _ := f.artifacts.CountByCampaign(context.Background(), nil, f.campaignID); count != 1 {
		t.Fatalf("artifact count: want=1 got=%d", count)
	}
	merged, _ := f.artifacts.GetByID(context.Background(), nil, existing.ID)
	if !types.ContainsNoteID(merged.SourceNotes(), note.ID) {
		t.Fatalf("merge did not record provenance")
	}
	stored, _ := f.proposals.GetByID(context.Background(), nil, proposal.ID)
	if stored.Status != types.ProposalApplied {
		t.Fatalf("proposal status: want=%s got=%s", types.ProposalApplied, stored.Status)
	}
}

func TestConfirmDeduplicationRejectCreatesDistinct(t *testing.T) {
	f := newServiceFixture(t)
	existing, err := f.artifacts.Create(context.Background(), nil, &types.Artifact{
		CampaignID:    f.campaignID,
		Name:          "Grag the Bold",
		NameKey:       types.NameKeyOf("Grag the Bold"),
		Category:      types.CategoryCharacter,
		SourceNoteIDs: types.EncodeNoteIDs([]uuid.UUID{uuid.New()}),
	})
	if err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	note := f.seedCompletedNote(t)
	f.seedPendingProposal(t, note.ID, existing.ID)
	f.ai.responses["note_relationships"] = json.RawMessage(`{"relationships": []}`)

	// No approvals: every pending proposal is rejected.
	result, err := f.service.ConfirmDeduplication(context.Background(), f.campaignID, note.ID, nil)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if count, _ := f.artifacts.CountByCampaign(context.Background(), nil, f.campaignID); count != 2 {
		t.Fatalf("artifact count: want=2 got=%d", count)
	}
	if len(result.Artifacts) != 1 {
		t.Fatalf("note artifacts: want=1 got=%d", len(result.Artifacts))
	}
	if result.Artifacts[0].ID == existing.ID {
		t.Fatalf("rejected proposal must not merge into existing")
	}
}

func TestConfirmDeduplicationUnknownProposalIsInvalid(t *testing.T) {
	f := newServiceFixture(t)
	note := f.seedCompletedNote(t)

	_, err := f.service.ConfirmDeduplication(context.Background(), f.campaignID, note.ID, []uuid.UUID{uuid.New()})
	if !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("want=ErrInvalidArgument got=%v", err)
	}
}

func TestConfirmDeduplicationReprojectsSyncedNote(t *testing.T) {
	f := newServiceFixture(t)
	existing, err := f.artifacts.Create(context.Background(), nil, &types.Artifact{
		CampaignID:    f.campaignID,
		Name:          "Grag the Bold",
		NameKey:       types.NameKeyOf("Grag the Bold"),
		Category:      types.CategoryCharacter,
		Description:   "a dwarf fighter",
		SourceNoteIDs: types.EncodeNoteIDs([]uuid.UUID{uuid.New()}),
	})
	if err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	note := f.seedCompletedNote(t)
	proposal := f.seedPendingProposal(t, note.ID, existing.ID)
	f.ai.responses["note_relationships"] = json.RawMessage(`{"relationships": []}`)

	// First-pass projection settles both stores.
	f.coordinator.SyncNote(context.Background(), note.ID)
	before := f.store.upsertCount()
	if before != 1 {
		t.Fatalf("initial upserts: want=1 got=%d", before)
	}

	// Confirmation merges into the existing artifact; the new provenance
	// has to reach the projection stores even though they were synced.
	if _, err := f.service.ConfirmDeduplication(context.Background(), f.campaignID, note.ID, []uuid.UUID{proposal.ID}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if after := f.store.upsertCount(); after <= before {
		t.Fatalf("upserts after confirmation: want >%d got=%d", before, after)
	}
	stored, _ := f.notes.GetByID(context.Background(), nil, note.ID)
	if stored.QdrantSyncStatus != types.SyncSynced || stored.GraphSyncStatus != types.SyncSynced {
		t.Fatalf("sync statuses after resync: qdrant=%s graph=%s",
			stored.QdrantSyncStatus, stored.GraphSyncStatus)
	}
}

func TestRetryProcessingReprocessesFailedNote(t *testing.T) {
	f := newServiceFixture(t)
	f.ai.responses["note_artifacts"] = json.RawMessage(`{"artifacts": []}`)

	note, err := f.notes.Create(context.Background(), nil, &types.Note{
		CampaignID:       f.campaignID,
		Title:            "Session 3",
		Content:          "the model was down when this arrived",
		ProcessingStatus: types.ProcessingFailed,
		ProcessingError:  "artifact extraction failed",
	})
	if err != nil {
		t.Fatalf("seed note: %v", err)
	}

	if _, err := f.service.RetryProcessing(context.Background(), f.campaignID, note.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	done := f.waitForStatus(t, note.ID, types.ProcessingCompleted)
	if done.ProcessingError != "" {
		t.Fatalf("processing error not cleared: %s", done.ProcessingError)
	}
}

func TestRetryProcessingRequiresFailedStatus(t *testing.T) {
	f := newServiceFixture(t)
	note := f.seedCompletedNote(t)

	_, err := f.service.RetryProcessing(context.Background(), f.campaignID, note.ID)
	var validationErr *apperrors.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("want=ValidationError got=%v", err)
	}
	if validationErr.Field != "status" {
		t.Fatalf("field: want=status got=%s", validationErr.Field)
	}
}

func TestRetrySyncValidation(t *testing.T) {
	f := newServiceFixture(t)
	note := f.seedCompletedNote(t)

	_, err := f.service.RetrySync(context.Background(), f.campaignID, note.ID, "redis")
	var validationErr *apperrors.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("bad store: want=ValidationError got=%v", err)
	}

	// A store that never failed has nothing to retry.
	_, err = f.service.RetrySync(context.Background(), f.campaignID, note.ID, "qdrant")
	if !errors.As(err, &validationErr) {
		t.Fatalf("healthy store: want=ValidationError got=%v", err)
	}
}
