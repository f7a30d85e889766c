package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/repos"
)

const sweepBatchSize = 50

// Enqueuer re-submits a note to the processing pool without blocking.
type Enqueuer interface {
	TryEnqueue(campaignID, noteID uuid.UUID) error
}

// Sweeper is the saga-recovery loop: on startup and on an interval it
// re-enqueues notes whose processing never finished, requeues errored sync
// rows whose backoff has elapsed, then re-drives every note whose store
// status is pending, retry, or stuck in syncing. Processing and projection
// writes are idempotent, so re-driving a note that actually completed is
// harmless.
type Sweeper struct {
	cfg         Config
	notes       repos.NoteRepo
	coordinator *Coordinator
	enqueuer    Enqueuer
	log         *logger.Logger
	done        chan struct{}
}

func NewSweeper(cfg Config, notes repos.NoteRepo, coordinator *Coordinator, enqueuer Enqueuer, baseLog *logger.Logger) *Sweeper {
	return &Sweeper{
		cfg:         cfg,
		notes:       notes,
		coordinator: coordinator,
		enqueuer:    enqueuer,
		log:         baseLog.With("component", "SyncSweeper"),
		done:        make(chan struct{}),
	}
}

// Start runs one immediate sweep, then sweeps on the configured interval
// until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		s.Sweep(ctx)

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.done)
}

// Sweep runs one recovery pass: stuck processing first, then both stores.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepProcessing(ctx)

	for _, store := range []repos.SyncStore{repos.StoreQdrant, repos.StoreGraph} {
		requeued, err := s.notes.RequeueErrored(ctx, nil, store, s.cfg.MaxAttempts, s.cfg.RetryDelay)
		if err != nil {
			s.log.Warn("requeue of errored notes failed", "store", string(store), "error", err)
		} else if requeued > 0 {
			s.log.Info("requeued errored notes", "store", string(store), "count", requeued)
		}

		backlog, err := s.notes.ListSyncBacklog(ctx, nil, store, s.cfg.MaxAttempts, s.cfg.StaleSyncing, sweepBatchSize)
		if err != nil {
			s.log.Warn("backlog scan failed", "store", string(store), "error", err)
			continue
		}
		for _, note := range backlog {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := s.coordinator.SyncStore(ctx, note.ID, store); err != nil {
				s.log.Warn("sweep sync failed", "note_id", note.ID, "store", string(store), "error", err)
			}
		}
	}
}

// sweepProcessing re-enqueues notes still pending or processing past the
// stuck cutoff: rows orphaned by a full queue at submit time or by a crash
// mid-run. Deduplication re-checks by name and provenance unions are
// idempotent, so a re-run of a half-processed note converges.
func (s *Sweeper) sweepProcessing(ctx context.Context) {
	if s.enqueuer == nil {
		return
	}
	backlog, err := s.notes.ListProcessingBacklog(ctx, nil, s.cfg.StuckProcessing, sweepBatchSize)
	if err != nil {
		s.log.Warn("processing backlog scan failed", "error", err)
		return
	}
	for _, note := range backlog {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.enqueuer.TryEnqueue(note.CampaignID, note.ID); err != nil {
			// Queue full again; the next sweep picks the rest up.
			s.log.Warn("stuck note re-enqueue failed", "note_id", note.ID, "error", err)
			return
		}
		s.log.Info("re-enqueued stuck note", "note_id", note.ID, "status", string(note.ProcessingStatus))
	}
}
