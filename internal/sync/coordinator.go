package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tavernfall/loreweave-backend/internal/data/graph"
	"github.com/tavernfall/loreweave-backend/internal/dedup"
	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/envutil"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/neo4jdb"
	"github.com/tavernfall/loreweave-backend/internal/platform/openai"
	"github.com/tavernfall/loreweave-backend/internal/platform/vector"
	"github.com/tavernfall/loreweave-backend/internal/repos"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

type Config struct {
	MaxAttempts     int
	RetryDelay      time.Duration
	StaleSyncing    time.Duration
	StuckProcessing time.Duration
	CallTimeout     time.Duration
	SweepInterval   time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		MaxAttempts:     envutil.BoundedInt("SYNC_MAX_ATTEMPTS", 1, 20, 5),
		RetryDelay:      time.Duration(envutil.BoundedInt("SYNC_RETRY_DELAY_SECONDS", 1, 3600, 30)) * time.Second,
		StaleSyncing:    time.Duration(envutil.BoundedInt("SYNC_STALE_SYNCING_SECONDS", 10, 3600, 300)) * time.Second,
		StuckProcessing: time.Duration(envutil.BoundedInt("SYNC_STUCK_PROCESSING_SECONDS", 10, 3600, 300)) * time.Second,
		CallTimeout:     time.Duration(envutil.BoundedInt("SYNC_CALL_TIMEOUT_SECONDS", 1, 600, 60)) * time.Second,
		SweepInterval:   time.Duration(envutil.BoundedInt("SYNC_SWEEP_INTERVAL_SECONDS", 5, 3600, 60)) * time.Second,
	}
}

// StatusPublisher receives sync-status transitions. Implementations must not
// block; publishing is best effort.
type StatusPublisher interface {
	PublishNoteEvent(ctx context.Context, campaignID, noteID uuid.UUID, kind, status string)
}

// Coordinator drives the per-note, per-store status machine. The relational
// row is written before any projection attempt, each store succeeds or fails
// on its own, and every projection write is an idempotent upsert so replays
// converge.
type Coordinator struct {
	cfg           Config
	notes         repos.NoteRepo
	artifacts     repos.ArtifactRepo
	relationships repos.RelationshipRepo
	ai            openai.Client
	store         vector.Store
	graphClient   *neo4jdb.Client
	publisher     StatusPublisher
	log           *logger.Logger
}

func NewCoordinator(
	cfg Config,
	notes repos.NoteRepo,
	artifacts repos.ArtifactRepo,
	relationships repos.RelationshipRepo,
	ai openai.Client,
	store vector.Store,
	graphClient *neo4jdb.Client,
	publisher StatusPublisher,
	baseLog *logger.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:           cfg,
		notes:         notes,
		artifacts:     artifacts,
		relationships: relationships,
		ai:            ai,
		store:         store,
		graphClient:   graphClient,
		publisher:     publisher,
		log:           baseLog.With("component", "SyncCoordinator"),
	}
}

// SyncNote runs both store projections for one note. Failures are recorded
// on the note row, not returned; one store's failure never blocks the other.
func (c *Coordinator) SyncNote(ctx context.Context, noteID uuid.UUID) {
	for _, store := range []repos.SyncStore{repos.StoreQdrant, repos.StoreGraph} {
		if err := c.SyncStore(ctx, noteID, store); err != nil {
			c.log.Warn("store sync failed",
				"note_id", noteID, "store", string(store), "error", err)
		}
	}
}

// SyncStore runs one projection attempt for one note. The status walk is
// {pending|retry|stale syncing} -> syncing -> {synced|error}; a note already
// synced or legitimately mid-sync is a no-op.
func (c *Coordinator) SyncStore(ctx context.Context, noteID uuid.UUID, store repos.SyncStore) error {
	note, err := c.notes.GetByID(ctx, nil, noteID)
	if err != nil {
		return err
	}

	if err := c.notes.SetSyncStatus(ctx, nil, noteID, store, types.SyncSyncing, ""); err != nil {
		if errors.Is(err, apperrors.ErrInvalidArgument) {
			// Not in a state that can enter syncing; nothing to do.
			return nil
		}
		return err
	}
	c.publish(ctx, note, store, types.SyncSyncing)

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var syncErr error
	switch store {
	case repos.StoreQdrant:
		syncErr = c.projectVectors(callCtx, note)
	case repos.StoreGraph:
		syncErr = c.projectGraph(callCtx, note)
	default:
		syncErr = apperrors.ErrInvalidArgument
	}

	if syncErr != nil {
		wrapped := &apperrors.SyncError{Store: string(store), Cause: syncErr}
		if err := c.notes.SetSyncStatus(ctx, nil, noteID, store, types.SyncError, truncateError(wrapped.Error())); err != nil {
			c.log.Error("failed to record sync error", "note_id", noteID, "store", string(store), "error", err)
		}
		c.publish(ctx, note, store, types.SyncError)
		return wrapped
	}

	if err := c.notes.SetSyncStatus(ctx, nil, noteID, store, types.SyncSynced, ""); err != nil {
		return err
	}
	c.publish(ctx, note, store, types.SyncSynced)
	return nil
}

// ResyncNote re-projects a note whose stores may already be settled. New
// relational writes after completion (proposal confirmation, relinked
// relationships) land behind a synced status, so the settled stores are
// flipped back to pending first, then both projections run again.
func (c *Coordinator) ResyncNote(ctx context.Context, noteID uuid.UUID) {
	if err := c.notes.MarkForResync(ctx, nil, noteID); err != nil {
		c.log.Warn("resync mark failed", "note_id", noteID, "error", err)
	}
	c.SyncNote(ctx, noteID)
}

// RequeueStore is the explicit error -> retry transition behind the manual
// retry endpoint. It then drives an immediate attempt.
func (c *Coordinator) RequeueStore(ctx context.Context, noteID uuid.UUID, store repos.SyncStore) error {
	if err := c.notes.SetSyncStatus(ctx, nil, noteID, store, types.SyncRetry, ""); err != nil {
		return err
	}
	return c.SyncStore(ctx, noteID, store)
}

// projectVectors upserts the note's own embedding plus the embeddings of
// every artifact the note contributed to. Artifact vectors use the same
// canonical text the dedup retriever queries with.
func (c *Coordinator) projectVectors(ctx context.Context, note *types.Note) error {
	artifacts, err := c.artifacts.ListBySourceNote(ctx, nil, note.CampaignID, note.ID)
	if err != nil {
		return err
	}

	texts := make([]string, 0, len(artifacts)+1)
	vectors := make([]vector.Vector, 0, len(artifacts)+1)

	texts = append(texts, note.Title+"\n\n"+note.Content)
	vectors = append(vectors, vector.Vector{
		ID: note.ID.String(),
		Metadata: map[string]any{
			"kind":        "note",
			"campaign_id": note.CampaignID.String(),
			"title":       note.Title,
		},
	})

	for _, a := range artifacts {
		texts = append(texts, dedup.EmbeddingText(a.Name, a.Category, a.Description))
		vectors = append(vectors, vector.Vector{
			ID: a.ID.String(),
			Metadata: map[string]any{
				"kind":        "artifact",
				"campaign_id": a.CampaignID.String(),
				"name":        a.Name,
				"category":    string(a.Category),
			},
		})
	}

	embeddings, err := c.ai.Embed(ctx, "sync_vectors", texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(vectors) {
		return errors.New("embedding count mismatch")
	}
	for i := range vectors {
		vectors[i].Values = embeddings[i]
	}

	return c.store.Upsert(ctx, vector.CampaignNamespace(note.CampaignID.String()), vectors)
}

func (c *Coordinator) projectGraph(ctx context.Context, note *types.Note) error {
	artifacts, err := c.artifacts.ListBySourceNote(ctx, nil, note.CampaignID, note.ID)
	if err != nil {
		return err
	}
	relationships, err := c.relationships.ListBySourceNote(ctx, nil, note.CampaignID, note.ID)
	if err != nil {
		return err
	}
	return graph.UpsertCampaignGraph(ctx, c.graphClient, c.log, note.CampaignID, artifacts, relationships)
}

func (c *Coordinator) publish(ctx context.Context, note *types.Note, store repos.SyncStore, status types.SyncStatus) {
	if c.publisher == nil || note == nil {
		return
	}
	c.publisher.PublishNoteEvent(ctx, note.CampaignID, note.ID, string(store)+"_sync", string(status))
}

func truncateError(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max]
}
