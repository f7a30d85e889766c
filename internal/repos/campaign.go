package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

type CampaignRepo interface {
	Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) (*types.Campaign, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error)
}

type campaignRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCampaignRepo(db *gorm.DB, baseLog *logger.Logger) CampaignRepo {
	return &campaignRepo{
		db:  db,
		log: baseLog.With("repo", "CampaignRepo"),
	}
}

func (r *campaignRepo) Create(ctx context.Context, tx *gorm.DB, campaign *types.Campaign) (*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if campaign == nil {
		return nil, apperrors.ErrInvalidArgument
	}
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(campaign).Error; err != nil {
		return nil, err
	}
	return campaign, nil
}

func (r *campaignRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Campaign, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var campaign types.Campaign
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}
