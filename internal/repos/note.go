package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

// SyncStore names one of the two projection stores a note row tracks.
type SyncStore string

const (
	StoreQdrant SyncStore = "qdrant"
	StoreGraph  SyncStore = "graph"
)

func (s SyncStore) Valid() bool {
	return s == StoreQdrant || s == StoreGraph
}

type NoteRepo interface {
	Create(ctx context.Context, tx *gorm.DB, note *types.Note) (*types.Note, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Note, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Note, error)
	SetProcessingStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status types.ProcessingStatus, errText string) error
	// SetSyncStatus advances one store's status machine. Attempts are
	// incremented only on the transition into syncing.
	SetSyncStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, store SyncStore, status types.SyncStatus, errText string) error
	// ListSyncBacklog returns notes whose given store status is pending or
	// retry (or stuck in syncing longer than staleSyncing) with fewer than
	// maxAttempts attempts, oldest first.
	ListSyncBacklog(ctx context.Context, tx *gorm.DB, store SyncStore, maxAttempts int, staleSyncing time.Duration, limit int) ([]*types.Note, error)
	// RequeueErrored flips errored rows back to retry once olderThan has
	// passed since the failed attempt, up to maxAttempts. Returns how many
	// rows were requeued.
	RequeueErrored(ctx context.Context, tx *gorm.DB, store SyncStore, maxAttempts int, olderThan time.Duration) (int64, error)
	// MarkForResync resets settled store statuses (synced or error) back to
	// pending so new relational writes can be re-projected. Stores mid-walk
	// (pending, retry, syncing) are left alone.
	MarkForResync(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// ListProcessingBacklog returns notes whose processing status is pending
	// or processing and whose last write is older than stuckAfter, oldest
	// first.
	ListProcessingBacklog(ctx context.Context, tx *gorm.DB, stuckAfter time.Duration, limit int) ([]*types.Note, error)
	// RecordProcessingOutcome persists the deduplication summary and rejected
	// relationships of one processing run.
	RecordProcessingOutcome(ctx context.Context, tx *gorm.DB, id uuid.UUID, summary, rejected datatypes.JSON) error
}

type noteRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNoteRepo(db *gorm.DB, baseLog *logger.Logger) NoteRepo {
	return &noteRepo{
		db:  db,
		log: baseLog.With("repo", "NoteRepo"),
	}
}

func (r *noteRepo) Create(ctx context.Context, tx *gorm.DB, note *types.Note) (*types.Note, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if note == nil {
		return nil, apperrors.ErrInvalidArgument
	}
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
	if err := transaction.WithContext(ctx).Create(note).Error; err != nil {
		return nil, err
	}
	return note, nil
}

func (r *noteRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Note, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, apperrors.ErrInvalidArgument
	}
	var note types.Note
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (r *noteRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Note, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Note
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

func (r *noteRepo) SetProcessingStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status types.ProcessingStatus, errText string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || !status.Valid() {
		return apperrors.ErrInvalidArgument
	}
	return transaction.WithContext(ctx).
		Model(&types.Note{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_status": status,
			"processing_error":  errText,
			"updated_at":        time.Now(),
		}).Error
}

func (r *noteRepo) SetSyncStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, store SyncStore, status types.SyncStatus, errText string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || !store.Valid() || !status.Valid() {
		return apperrors.ErrInvalidArgument
	}

	now := time.Now()
	prefix := string(store)
	updates := map[string]interface{}{
		prefix + "_sync_status": status,
		prefix + "_sync_error":  errText,
		"updated_at":            now,
	}
	if status == types.SyncSyncing {
		updates[prefix+"_sync_attempts"] = gorm.Expr(prefix+"_sync_attempts + ?", 1)
	}
	if status == types.SyncSynced || status == types.SyncError {
		updates[prefix+"_last_sync_at"] = now
	}

	// Guard in SQL so a concurrent sweep and an in-flight sync cannot walk
	// the machine backwards.
	var allowedFrom []types.SyncStatus
	switch status {
	case types.SyncSyncing:
		// syncing -> syncing lets the sweeper reclaim rows stuck after a
		// crash; store writes are idempotent so a double run converges.
		allowedFrom = []types.SyncStatus{types.SyncPending, types.SyncRetry, types.SyncSyncing}
	case types.SyncSynced, types.SyncError:
		allowedFrom = []types.SyncStatus{types.SyncSyncing}
	case types.SyncRetry:
		allowedFrom = []types.SyncStatus{types.SyncError}
	case types.SyncPending:
		return apperrors.ErrInvalidArgument
	}

	res := transaction.WithContext(ctx).
		Model(&types.Note{}).
		Where("id = ? AND "+prefix+"_sync_status IN ?", id, allowedFrom).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrInvalidArgument
	}
	return nil
}

func (r *noteRepo) ListSyncBacklog(ctx context.Context, tx *gorm.DB, store SyncStore, maxAttempts int, staleSyncing time.Duration, limit int) ([]*types.Note, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if !store.Valid() {
		return nil, apperrors.ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 50
	}
	prefix := string(store)
	staleCutoff := time.Now().Add(-staleSyncing)

	var out []*types.Note
	err := transaction.WithContext(ctx).
		Where(
			"("+prefix+"_sync_status IN ? AND "+prefix+"_sync_attempts < ?)"+
				" OR ("+prefix+"_sync_status = ? AND updated_at < ?)",
			[]types.SyncStatus{types.SyncPending, types.SyncRetry}, maxAttempts,
			types.SyncSyncing, staleCutoff,
		).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *noteRepo) MarkForResync(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return apperrors.ErrInvalidArgument
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	for _, prefix := range []string{string(StoreQdrant), string(StoreGraph)} {
		statusCol := prefix + "_sync_status"
		// Right-hand sides all see the pre-update row, so the attempts reset
		// keys off the same settled statuses as the status flip.
		updates[statusCol] = gorm.Expr(
			"CASE WHEN " + statusCol + " IN ('synced','error') THEN 'pending' ELSE " + statusCol + " END")
		updates[prefix+"_sync_attempts"] = gorm.Expr(
			"CASE WHEN " + statusCol + " IN ('synced','error') THEN 0 ELSE " + prefix + "_sync_attempts END")
		updates[prefix+"_sync_error"] = ""
	}

	res := transaction.WithContext(ctx).
		Model(&types.Note{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *noteRepo) ListProcessingBacklog(ctx context.Context, tx *gorm.DB, stuckAfter time.Duration, limit int) ([]*types.Note, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	cutoff := time.Now().Add(-stuckAfter)

	var out []*types.Note
	err := transaction.WithContext(ctx).
		Where(
			"processing_status IN ? AND updated_at < ?",
			[]types.ProcessingStatus{types.ProcessingPending, types.ProcessingRunning}, cutoff,
		).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *noteRepo) RecordProcessingOutcome(ctx context.Context, tx *gorm.DB, id uuid.UUID, summary, rejected datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return apperrors.ErrInvalidArgument
	}
	return transaction.WithContext(ctx).
		Model(&types.Note{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dedup_summary":          summary,
			"rejected_relationships": rejected,
			"updated_at":             time.Now(),
		}).Error
}

func (r *noteRepo) RequeueErrored(ctx context.Context, tx *gorm.DB, store SyncStore, maxAttempts int, olderThan time.Duration) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if !store.Valid() {
		return 0, apperrors.ErrInvalidArgument
	}
	prefix := string(store)
	cutoff := time.Now().Add(-olderThan)

	res := transaction.WithContext(ctx).
		Model(&types.Note{}).
		Where(
			prefix+"_sync_status = ? AND "+prefix+"_sync_attempts < ? AND "+prefix+"_last_sync_at < ?",
			types.SyncError, maxAttempts, cutoff,
		).
		Updates(map[string]interface{}{
			prefix + "_sync_status": types.SyncRetry,
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
