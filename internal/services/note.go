package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tavernfall/loreweave-backend/internal/dedup"
	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/pipeline"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/repos"
	notesync "github.com/tavernfall/loreweave-backend/internal/sync"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

type NoteService interface {
	// CreateNote validates, persists and enqueues a note. The returned note
	// is in processing status pending; results arrive asynchronously.
	CreateNote(ctx context.Context, campaignID uuid.UUID, input CreateNoteInput) (*types.Note, error)
	GetNote(ctx context.Context, campaignID, noteID uuid.UUID) (*types.Note, error)
	GetStatus(ctx context.Context, campaignID, noteID uuid.UUID) (*NoteStatus, error)
	// ConfirmDeduplication settles the note's pending merge proposals:
	// proposals whose id is listed are approved, the rest are rejected.
	ConfirmDeduplication(ctx context.Context, campaignID, noteID uuid.UUID, approvedProposalIDs []uuid.UUID) (*pipeline.Result, error)
	// RetrySync re-queues one projection store after a sync failure.
	RetrySync(ctx context.Context, campaignID, noteID uuid.UUID, store string) (*types.Note, error)
	// RetryProcessing re-enqueues a failed note through the full pipeline.
	RetryProcessing(ctx context.Context, campaignID, noteID uuid.UUID) (*types.Note, error)
}

type CreateNoteInput struct {
	Title          string `json:"title"`
	Content        string `json:"content"`
	Override       bool   `json:"override"`
	OverrideReason string `json:"overrideReason"`
}

type NoteStatus struct {
	Status           types.ProcessingStatus `json:"status"`
	ProcessingError  string                 `json:"processingError,omitempty"`
	QdrantSyncStatus types.SyncStatus       `json:"qdrantSyncStatus"`
	GraphSyncStatus  types.SyncStatus       `json:"graphSyncStatus"`
	Result           *pipeline.Result       `json:"result,omitempty"`
}

type noteService struct {
	notes       repos.NoteRepo
	campaigns   repos.CampaignRepo
	proposals   repos.MergeProposalRepo
	artifacts   repos.ArtifactRepo
	resolver    *dedup.Resolver
	pipe        *pipeline.Pipeline
	coordinator *notesync.Coordinator
	locks       *pipeline.CampaignLocks
	log         *logger.Logger
}

func NewNoteService(
	notes repos.NoteRepo,
	campaigns repos.CampaignRepo,
	proposals repos.MergeProposalRepo,
	artifacts repos.ArtifactRepo,
	resolver *dedup.Resolver,
	pipe *pipeline.Pipeline,
	coordinator *notesync.Coordinator,
	locks *pipeline.CampaignLocks,
	baseLog *logger.Logger,
) NoteService {
	return &noteService{
		notes:       notes,
		campaigns:   campaigns,
		proposals:   proposals,
		artifacts:   artifacts,
		resolver:    resolver,
		pipe:        pipe,
		coordinator: coordinator,
		locks:       locks,
		log:         baseLog.With("service", "NoteService"),
	}
}

func (s *noteService) CreateNote(ctx context.Context, campaignID uuid.UUID, input CreateNoteInput) (*types.Note, error) {
	if _, err := s.campaigns.GetByID(ctx, nil, campaignID); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" {
		return nil, &apperrors.ValidationError{Field: "title", Message: "required"}
	}
	if content == "" {
		return nil, &apperrors.ValidationError{Field: "content", Message: "required"}
	}
	words := types.CountWords(content)
	if words > types.MaxNoteWords {
		return nil, &apperrors.ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("%d words exceeds the %d word limit", words, types.MaxNoteWords),
		}
	}
	if input.Override && strings.TrimSpace(input.OverrideReason) == "" {
		return nil, &apperrors.ValidationError{Field: "overrideReason", Message: "required when override is set"}
	}

	note, err := s.notes.Create(ctx, nil, &types.Note{
		CampaignID:     campaignID,
		Title:          title,
		Content:        content,
		WordCount:      words,
		Override:       input.Override,
		OverrideReason: strings.TrimSpace(input.OverrideReason),
	})
	if err != nil {
		return nil, err
	}

	// The row exists either way; a full queue surfaces as ErrQueueFull and
	// the note stays pending until the sweeper re-enqueues it.
	if err := s.pipe.Enqueue(ctx, campaignID, note.ID); err != nil {
		s.log.Warn("note enqueue failed", "note_id", note.ID, "error", err)
		return nil, err
	}
	return note, nil
}

func (s *noteService) GetNote(ctx context.Context, campaignID, noteID uuid.UUID) (*types.Note, error) {
	note, err := s.notes.GetByID(ctx, nil, noteID)
	if err != nil {
		return nil, err
	}
	if note.CampaignID != campaignID {
		return nil, apperrors.ErrNotFound
	}
	return note, nil
}

func (s *noteService) GetStatus(ctx context.Context, campaignID, noteID uuid.UUID) (*NoteStatus, error) {
	note, err := s.GetNote(ctx, campaignID, noteID)
	if err != nil {
		return nil, err
	}
	status := &NoteStatus{
		Status:           note.ProcessingStatus,
		ProcessingError:  note.ProcessingError,
		QdrantSyncStatus: note.QdrantSyncStatus,
		GraphSyncStatus:  note.GraphSyncStatus,
	}
	if note.ProcessingStatus == types.ProcessingCompleted {
		result, err := s.pipe.BuildResult(ctx, note)
		if err != nil {
			return nil, err
		}
		status.Result = result
	}
	return status, nil
}

func (s *noteService) ConfirmDeduplication(ctx context.Context, campaignID, noteID uuid.UUID, approvedProposalIDs []uuid.UUID) (*pipeline.Result, error) {
	note, err := s.GetNote(ctx, campaignID, noteID)
	if err != nil {
		return nil, err
	}

	pending, err := s.proposals.ListPendingByNote(ctx, nil, noteID)
	if err != nil {
		return nil, err
	}

	approved := make(map[uuid.UUID]bool, len(approvedProposalIDs))
	for _, id := range approvedProposalIDs {
		approved[id] = true
	}
	for id := range approved {
		found := false
		for _, p := range pending {
			if p.ID == id {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("proposal %s is not pending for this note: %w", id, apperrors.ErrInvalidArgument)
		}
	}

	// Resolution creates artifacts and edges, so it runs under the same
	// campaign lock as first-pass deduplication.
	settledArtifacts := false
	unlock := s.locks.Lock(campaignID)
	for _, p := range pending {
		switch p.ProposalType {
		case types.ProposalRelationship:
			resolution, err := s.resolver.ResolveRelationshipProposal(ctx, p.ID, approved[p.ID])
			if err != nil {
				unlock()
				return nil, err
			}
			if !resolution.Applied {
				s.log.Info("proposal already resolved", "proposal_id", p.ID)
			}
		default:
			resolution, err := s.resolver.ResolveArtifactProposal(ctx, p.ID, approved[p.ID])
			if err != nil {
				unlock()
				return nil, err
			}
			if resolution.Applied {
				settledArtifacts = true
			} else {
				s.log.Info("proposal already resolved", "proposal_id", p.ID)
			}
		}
	}

	// Names settled; the held endpoints can take relationships now.
	if settledArtifacts {
		artifacts, err := s.artifacts.ListBySourceNote(ctx, nil, campaignID, noteID)
		if err != nil {
			unlock()
			return nil, err
		}
		if _, err := s.pipe.RelinkRelationships(ctx, note, artifacts); err != nil {
			s.log.Warn("relationship relink after confirmation failed", "note_id", noteID, "error", err)
		}
	}
	unlock()

	// Confirmation writes land after the first projection settled the
	// stores, so the note is re-marked for sync before re-driving.
	s.coordinator.ResyncNote(ctx, noteID)
	return s.pipe.BuildResult(ctx, note)
}

// RetryProcessing re-runs the full pipeline for a note whose processing
// failed. Extraction and deduplication are idempotent per note, so the
// re-run converges with whatever the failed attempt already persisted.
func (s *noteService) RetryProcessing(ctx context.Context, campaignID, noteID uuid.UUID) (*types.Note, error) {
	note, err := s.GetNote(ctx, campaignID, noteID)
	if err != nil {
		return nil, err
	}
	if note.ProcessingStatus != types.ProcessingFailed {
		return nil, &apperrors.ValidationError{Field: "status", Message: "note processing has not failed"}
	}
	if err := s.notes.SetProcessingStatus(ctx, nil, noteID, types.ProcessingPending, ""); err != nil {
		return nil, err
	}
	if err := s.pipe.Enqueue(ctx, campaignID, noteID); err != nil {
		// The row is back to pending; the sweeper picks it up if the queue
		// stays full.
		s.log.Warn("retry enqueue failed", "note_id", noteID, "error", err)
		return nil, err
	}
	return s.notes.GetByID(ctx, nil, noteID)
}

func (s *noteService) RetrySync(ctx context.Context, campaignID, noteID uuid.UUID, store string) (*types.Note, error) {
	note, err := s.GetNote(ctx, campaignID, noteID)
	if err != nil {
		return nil, err
	}
	syncStore := repos.SyncStore(strings.ToLower(strings.TrimSpace(store)))
	if !syncStore.Valid() {
		return nil, &apperrors.ValidationError{Field: "store", Message: "must be qdrant or graph"}
	}
	if err := s.coordinator.RequeueStore(ctx, note.ID, syncStore); err != nil {
		if errors.Is(err, apperrors.ErrInvalidArgument) {
			return nil, &apperrors.ValidationError{Field: "store", Message: "store is not in an error state"}
		}
		// The attempt itself failed; the outcome is on the note row.
		s.log.Warn("manual sync retry failed", "note_id", noteID, "store", store, "error", err)
	}
	return s.notes.GetByID(ctx, nil, noteID)
}
