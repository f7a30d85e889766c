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

type RelationshipRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rel *types.Relationship) (*types.Relationship, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Relationship, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Relationship, error)
	// FindByEndpoints returns an existing edge with the same source, target
	// and label key, or nil, nil.
	FindByEndpoints(ctx context.Context, tx *gorm.DB, campaignID, sourceID, targetID uuid.UUID, label string) (*types.Relationship, error)
	// ListByEndpoints returns every edge between the two artifacts in the
	// given direction, regardless of label.
	ListByEndpoints(ctx context.Context, tx *gorm.DB, campaignID, sourceID, targetID uuid.UUID) ([]*types.Relationship, error)
	ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Relationship, error)
	ListBySourceNote(ctx context.Context, tx *gorm.DB, campaignID, noteID uuid.UUID) ([]*types.Relationship, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type relationshipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRelationshipRepo(db *gorm.DB, baseLog *logger.Logger) RelationshipRepo {
	return &relationshipRepo{
		db:  db,
		log: baseLog.With("repo", "RelationshipRepo"),
	}
}

func (r *relationshipRepo) Create(ctx context.Context, tx *gorm.DB, rel *types.Relationship) (*types.Relationship, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if rel == nil || rel.CampaignID == uuid.Nil || rel.SourceArtifactID == uuid.Nil || rel.TargetArtifactID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	if len(rel.SourceNoteIDs) == 0 {
		rel.SourceNoteIDs = types.EncodeNoteIDs(nil)
	}
	if err := transaction.WithContext(ctx).Create(rel).Error; err != nil {
		return nil, err
	}
	return rel, nil
}

func (r *relationshipRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Relationship, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var rel types.Relationship
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (r *relationshipRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Relationship, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Relationship
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

func (r *relationshipRepo) FindByEndpoints(ctx context.Context, tx *gorm.DB, campaignID, sourceID, targetID uuid.UUID, label string) (*types.Relationship, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if campaignID == uuid.Nil || sourceID == uuid.Nil || targetID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var rel types.Relationship
	err := transaction.WithContext(ctx).
		Where(
			"campaign_id = ? AND source_artifact_id = ? AND target_artifact_id = ? AND LOWER(label) = ?",
			campaignID, sourceID, targetID, types.NameKeyOf(label),
		).
		Limit(1).
		Find(&rel).Error
	if err != nil {
		return nil, err
	}
	if rel.ID == uuid.Nil {
		return nil, nil
	}
	return &rel, nil
}

func (r *relationshipRepo) ListByEndpoints(ctx context.Context, tx *gorm.DB, campaignID, sourceID, targetID uuid.UUID) ([]*types.Relationship, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if campaignID == uuid.Nil || sourceID == uuid.Nil || targetID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var out []*types.Relationship
	if err := transaction.WithContext(ctx).
		Where(
			"campaign_id = ? AND source_artifact_id = ? AND target_artifact_id = ?",
			campaignID, sourceID, targetID,
		).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *relationshipRepo) ListByCampaign(ctx context.Context, tx *gorm.DB, campaignID uuid.UUID) ([]*types.Relationship, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if campaignID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var out []*types.Relationship
	if err := transaction.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *relationshipRepo) ListBySourceNote(ctx context.Context, tx *gorm.DB, campaignID, noteID uuid.UUID) ([]*types.Relationship, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if campaignID == uuid.Nil || noteID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var out []*types.Relationship
	if err := transaction.WithContext(ctx).
		Where("campaign_id = ? AND source_note_ids @> ?", campaignID, fmt.Sprintf(`["%s"]`, noteID)).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *relationshipRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Relationship{}).
		Where("id = ?", id).
		Updates(updates).Error
}
