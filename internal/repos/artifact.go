package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

type ArtifactRepo interface {
	Create(ctx context.Context, tx *gorm.DB, artifact *types.Artifact) (*types.Artifact, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Artifact, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Artifact, error)
	// GetByNameKey is the existence re-check run under the campaign lock
	// before creating a new artifact. Returns nil, nil when absent.
	GetByNameKey(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, nameKey string) (*types.Artifact, error)
	CountByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (int64, error)
	ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Artifact, error)
	// ListBySourceNote returns artifacts whose provenance includes the note.
	// Uses a jsonb containment query; Postgres only.
	ListBySourceNote(ctx context.Context, tx *gorm.DB, campaignID, noteID uuid.UUID) ([]*types.Artifact, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type artifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactRepo {
	return &artifactRepo{
		db:  db,
		log: baseLog.With("repo", "ArtifactRepo"),
	}
}

func (r *artifactRepo) Create(ctx context.Context, tx *gorm.DB, artifact *types.Artifact) (*types.Artifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if artifact == nil || artifact.CampaignID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	if artifact.ID == uuid.Nil {
		artifact.ID = uuid.New()
	}
	if artifact.NameKey == "" {
		artifact.NameKey = types.NameKeyOf(artifact.Name)
	}
	if len(artifact.SourceNoteIDs) == 0 {
		artifact.SourceNoteIDs = types.EncodeNoteIDs(nil)
	}
	if err := transaction.WithContext(ctx).Create(artifact).Error; err != nil {
		return nil, err
	}
	return artifact, nil
}

func (r *artifactRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Artifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var artifact types.Artifact
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&artifact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (r *artifactRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Artifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Artifact
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *artifactRepo) GetByNameKey(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID, nameKey string) (*types.Artifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if campaignID == uuid.Nil || nameKey == "" {
		return nil, apperrors.ErrInvalidArgument
	}
	var artifact types.Artifact
	err := transaction.WithContext(ctx).
		Where("campaign_id = ? AND name_key = ?", campaignID, nameKey).
		Limit(1).
		Find(&artifact).Error
	if err != nil {
		return nil, err
	}
	if artifact.ID == uuid.Nil {
		return nil, nil
	}
	return &artifact, nil
}

func (r *artifactRepo) CountByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if campaignID == uuid.Nil {
		return 0, apperrors.ErrInvalidArgument
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Artifact{}).
		Where("campaign_id = ?", campaignID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *artifactRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Artifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if campaignID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var out []*types.Artifact
	if err := transaction.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *artifactRepo) ListBySourceNote(ctx context.Context, tx *gorm.DB, campaignID, noteID uuid.UUID) ([]*types.Artifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if campaignID == uuid.Nil || noteID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var out []*types.Artifact
	if err := transaction.WithContext(ctx).
		Where("campaign_id = ? AND source_note_ids @> ?", campaignID, fmt.Sprintf(`["%s"]`, noteID)).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *artifactRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return apperrors.ErrInvalidArgument
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Artifact{}).
		Where("id = ?", id).
		Updates(updates).Error
}
