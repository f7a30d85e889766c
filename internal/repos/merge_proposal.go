package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

type MergeProposalRepo interface {
	Create(ctx context.Context, tx *gorm.DB, proposal *types.MergeProposal) (*types.MergeProposal, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MergeProposal, error)
	ListPendingByNote(ctx context.Context, tx *gorm.DB, noteID uuid.UUID) ([]*types.MergeProposal, error)
	// TransitionStatus moves a proposal from one status to another and
	// reports whether this call performed the move. A false return with nil
	// error means someone already resolved it — the idempotence hook for
	// apply-once semantics.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to types.ProposalStatus) (bool, error)
}

type mergeProposalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMergeProposalRepo(db *gorm.DB, baseLog *logger.Logger) MergeProposalRepo {
	return &mergeProposalRepo{
		db:  db,
		log: baseLog.With("repo", "MergeProposalRepo"),
	}
}

func (r *mergeProposalRepo) Create(ctx context.Context, tx *gorm.DB, proposal *types.MergeProposal) (*types.MergeProposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if proposal == nil || proposal.CampaignID == uuid.Nil || proposal.NoteID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	if proposal.ID == uuid.Nil {
		proposal.ID = uuid.New()
	}
	if proposal.Status == "" {
		proposal.Status = types.ProposalPending
	}
	if err := transaction.WithContext(ctx).Create(proposal).Error; err != nil {
		return nil, err
	}
	return proposal, nil
}

func (r *mergeProposalRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MergeProposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var proposal types.MergeProposal
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&proposal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &proposal, nil
}

func (r *mergeProposalRepo) ListPendingByNote(ctx context.Context, tx *gorm.DB, noteID uuid.UUID) ([]*types.MergeProposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if noteID == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var out []*types.MergeProposal
	if err := transaction.WithContext(ctx).
		Where("note_id = ? AND status = ?", noteID, types.ProposalPending).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *mergeProposalRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to types.ProposalStatus) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, apperrors.ErrInvalidArgument
	}
	res := transaction.WithContext(ctx).
		Model(&types.MergeProposal{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
