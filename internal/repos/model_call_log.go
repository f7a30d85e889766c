package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	openaiclient "github.com/tavernfall/loreweave-backend/internal/platform/openai"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

type ModelCallLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entry *types.ModelCallLog) error
}

type modelCallLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewModelCallLogRepo(db *gorm.DB, baseLog *logger.Logger) ModelCallLogRepo {
	return &modelCallLogRepo{
		db:  db,
		log: baseLog.With("repo", "ModelCallLogRepo"),
	}
}

func (r *modelCallLogRepo) Create(ctx context.Context, tx *gorm.DB, entry *types.ModelCallLog) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return transaction.WithContext(ctx).Create(entry).Error
}

// CallRecorder adapts the repo to the model client's observability hook.
// Persisting usage is best effort; a failed insert only logs.
type CallRecorder struct {
	repo ModelCallLogRepo
	log  *logger.Logger
}

func NewCallRecorder(repo ModelCallLogRepo, baseLog *logger.Logger) *CallRecorder {
	return &CallRecorder{
		repo: repo,
		log:  baseLog.With("component", "CallRecorder"),
	}
}

func (r *CallRecorder) RecordModelCall(ctx context.Context, call openaiclient.ModelCall) {
	if r == nil || r.repo == nil {
		return
	}
	err := r.repo.Create(ctx, nil, &types.ModelCallLog{
		Kind:         call.Kind,
		Model:        call.Model,
		Purpose:      call.Purpose,
		InputTokens:  call.Usage.InputTokens,
		OutputTokens: call.Usage.OutputTokens,
		TotalTokens:  call.Usage.TotalTokens,
		LatencyMs:    call.Latency.Milliseconds(),
		ErrorText:    call.ErrorText,
	})
	if err != nil {
		r.log.Warn("model call log insert failed", "error", err)
	}
}
