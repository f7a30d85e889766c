package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/repos"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

type CampaignService interface {
	CreateCampaign(ctx context.Context, input CreateCampaignInput) (*types.Campaign, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*types.Campaign, error)
}

type CreateCampaignInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type campaignService struct {
	campaigns repos.CampaignRepo
	log       *logger.Logger
}

func NewCampaignService(campaigns repos.CampaignRepo, baseLog *logger.Logger) CampaignService {
	return &campaignService{
		campaigns: campaigns,
		log:       baseLog.With("service", "CampaignService"),
	}
}

func (s *campaignService) CreateCampaign(ctx context.Context, input CreateCampaignInput) (*types.Campaign, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, &apperrors.ValidationError{Field: "name", Message: "required"}
	}
	return s.campaigns.Create(ctx, nil, &types.Campaign{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
	})
}

func (s *campaignService) GetCampaign(ctx context.Context, id uuid.UUID) (*types.Campaign, error) {
	return s.campaigns.GetByID(ctx, nil, id)
}
