package pipeline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/tavernfall/loreweave-backend/internal/dedup"
	"github.com/tavernfall/loreweave-backend/internal/extraction"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/repos"
	notesync "github.com/tavernfall/loreweave-backend/internal/sync"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

// StatusPublisher receives processing-status transitions.
type StatusPublisher interface {
	PublishNoteEvent(ctx context.Context, campaignID, noteID uuid.UUID, kind, status string)
}

// DedupSummary counts what the engine decided for one note.
type DedupSummary struct {
	CreatedNew         int `json:"createdNew"`
	AutoMerged         int `json:"autoMerged"`
	ProposalsPending   int `json:"proposalsPending"`
	AdjudicationFailed int `json:"adjudicationFailed"`
}

// Result is the full note-processing outcome, assembled from the relational
// store so it can be rebuilt at any time after completion.
type Result struct {
	NoteID                     uuid.UUID                         `json:"noteId"`
	Success                    bool                              `json:"success"`
	Artifacts                  []*types.Artifact                 `json:"artifacts"`
	RelationshipCount          int                               `json:"relationshipCount"`
	DeduplicationResult        *DedupSummary                     `json:"deduplicationResult,omitempty"`
	RequiresUserConfirmation   bool                              `json:"requiresUserConfirmation"`
	ArtifactMergeProposals     []*types.MergeProposal            `json:"artifactMergeProposals"`
	RelationshipMergeProposals []*types.MergeProposal            `json:"relationshipMergeProposals,omitempty"`
	RejectedRelationships      []extraction.RejectedRelationship `json:"rejectedRelationships,omitempty"`
}

// Pipeline is the note-processing saga: extract artifacts, deduplicate each
// under the campaign lock, extract relationships over the settled names,
// then fan out to both store projections. Every step persists its outcome
// before the next runs, so a crash leaves a resumable note row, never a
// half-applied invisible state.
type Pipeline struct {
	pool          *Pool
	locks         *CampaignLocks
	extractor     *extraction.Extractor
	engine        *dedup.Engine
	coordinator   *notesync.Coordinator
	notes         repos.NoteRepo
	artifacts     repos.ArtifactRepo
	relationships repos.RelationshipRepo
	proposals     repos.MergeProposalRepo
	publisher     StatusPublisher
	log           *logger.Logger
}

func New(
	pool *Pool,
	locks *CampaignLocks,
	extractor *extraction.Extractor,
	engine *dedup.Engine,
	coordinator *notesync.Coordinator,
	notes repos.NoteRepo,
	artifacts repos.ArtifactRepo,
	relationships repos.RelationshipRepo,
	proposals repos.MergeProposalRepo,
	publisher StatusPublisher,
	baseLog *logger.Logger,
) *Pipeline {
	return &Pipeline{
		pool:          pool,
		locks:         locks,
		extractor:     extractor,
		engine:        engine,
		coordinator:   coordinator,
		notes:         notes,
		artifacts:     artifacts,
		relationships: relationships,
		proposals:     proposals,
		publisher:     publisher,
		log:           baseLog.With("component", "NotePipeline"),
	}
}

// Enqueue hands the note to the worker pool. Blocks while the queue is full
// until ctx ends; the note row must already exist.
func (p *Pipeline) Enqueue(ctx context.Context, campaignID, noteID uuid.UUID) error {
	return p.pool.Submit(ctx, func(taskCtx context.Context) {
		p.ProcessNote(taskCtx, campaignID, noteID)
	})
}

// TryEnqueue hands the note to the worker pool without blocking; a full
// queue returns ErrQueueFull. Used by the sweeper to re-drive stuck notes.
func (p *Pipeline) TryEnqueue(campaignID, noteID uuid.UUID) error {
	return p.pool.TrySubmit(func(taskCtx context.Context) {
		p.ProcessNote(taskCtx, campaignID, noteID)
	})
}

// ProcessNote runs the full saga for one note. Failures mark the note
// failed with the cause; they are never returned because nobody upstream is
// waiting.
func (p *Pipeline) ProcessNote(ctx context.Context, campaignID, noteID uuid.UUID) {
	log := p.log.With("campaign_id", campaignID, "note_id", noteID)

	note, err := p.notes.GetByID(ctx, nil, noteID)
	if err != nil {
		log.Error("note lookup failed", "error", err)
		return
	}

	if err := p.setProcessing(ctx, note, types.ProcessingRunning, ""); err != nil {
		log.Error("failed to mark note processing", "error", err)
		return
	}

	items, err := p.extractor.ExtractArtifacts(ctx, note.Title, note.Content)
	if err != nil {
		log.Warn("artifact extraction failed", "error", err)
		p.fail(ctx, note, err)
		return
	}

	summary := &DedupSummary{}
	resolvedByKey := make(map[string]*types.Artifact)

	// Adjudicate-and-create is serialized per campaign; the engine re-checks
	// existence by normalized name inside the lock. Relationship resolution
	// stays under the same lock so edge adjudication never races a concurrent
	// note over the same endpoints.
	unlock := p.locks.Lock(campaignID)
	for _, item := range items {
		decision, err := p.engine.ResolveArtifact(ctx, campaignID, noteID, item)
		if err != nil {
			unlock()
			log.Warn("deduplication failed", "name", item.Name, "error", err)
			p.fail(ctx, note, err)
			return
		}
		switch decision.Outcome {
		case dedup.OutcomeCreated:
			summary.CreatedNew++
			if decision.AdjudicationFailed {
				summary.AdjudicationFailed++
			}
			resolvedByKey[types.NameKeyOf(item.Name)] = decision.Artifact
		case dedup.OutcomeAutoMerged:
			summary.AutoMerged++
			resolvedByKey[types.NameKeyOf(item.Name)] = decision.Artifact
		case dedup.OutcomeProposed:
			// Held on the proposal; not a resolvable endpoint yet.
			summary.ProposalsPending++
		}
	}

	rejected, err := p.linkRelationships(ctx, note, resolvedByKey, summary)
	unlock()
	if err != nil {
		log.Warn("relationship extraction failed", "error", err)
		p.fail(ctx, note, err)
		return
	}
	if len(rejected) > 0 {
		log.Info("relationships rejected", "count", len(rejected))
	}

	p.recordOutcome(ctx, note.ID, summary, rejected)

	if err := p.setProcessing(ctx, note, types.ProcessingCompleted, ""); err != nil {
		log.Error("failed to mark note completed", "error", err)
		return
	}
	log.Info("note processed",
		"created", summary.CreatedNew,
		"auto_merged", summary.AutoMerged,
		"proposals", summary.ProposalsPending)

	// Projections run after the relational write, each on its own status.
	p.coordinator.SyncNote(ctx, noteID)
}

// linkRelationships runs the relationship pass over the settled artifact
// names and resolves each edge through the engine: exact label hits merge,
// paraphrased labels between the same endpoints are adjudicated. Proposal
// outcomes are counted into summary when one is given.
func (p *Pipeline) linkRelationships(ctx context.Context, note *types.Note, resolvedByKey map[string]*types.Artifact, summary *DedupSummary) ([]extraction.RejectedRelationship, error) {
	if len(resolvedByKey) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(resolvedByKey))
	for _, a := range resolvedByKey {
		names = append(names, a.Name)
	}

	accepted, rejected, err := p.extractor.ExtractRelationships(ctx, note.Title, note.Content, names)
	if err != nil {
		return nil, err
	}

	for _, rel := range accepted {
		source := resolvedByKey[types.NameKeyOf(rel.SourceName)]
		target := resolvedByKey[types.NameKeyOf(rel.TargetName)]
		if source == nil || target == nil {
			rejected = append(rejected, extraction.RejectedRelationship{
				Relationship: rel,
				Reason:       "endpoint not resolved",
			})
			continue
		}
		if source.ID == target.ID {
			rejected = append(rejected, extraction.RejectedRelationship{
				Relationship: rel,
				Reason:       "self-referential",
			})
			continue
		}
		decision, err := p.engine.ResolveRelationship(ctx, note.CampaignID, note.ID, source.ID, target.ID, rel)
		if err != nil {
			return rejected, err
		}
		if summary != nil {
			if decision.Outcome == dedup.OutcomeProposed {
				summary.ProposalsPending++
			}
			if decision.AdjudicationFailed {
				summary.AdjudicationFailed++
			}
		}
	}
	return rejected, nil
}

// RelinkRelationships reruns the relationship pass over the given artifacts.
// Used after proposal confirmation settles names that were held during the
// first pass. Callers should hold the campaign lock.
func (p *Pipeline) RelinkRelationships(ctx context.Context, note *types.Note, artifacts []*types.Artifact) ([]extraction.RejectedRelationship, error) {
	byKey := make(map[string]*types.Artifact, len(artifacts))
	for _, a := range artifacts {
		if a != nil {
			byKey[types.NameKeyOf(a.Name)] = a
		}
	}
	return p.linkRelationships(ctx, note, byKey, nil)
}

// BuildResult assembles the user-facing outcome from the relational store.
func (p *Pipeline) BuildResult(ctx context.Context, note *types.Note) (*Result, error) {
	artifacts, err := p.artifacts.ListBySourceNote(ctx, nil, note.CampaignID, note.ID)
	if err != nil {
		return nil, err
	}
	relationships, err := p.relationships.ListBySourceNote(ctx, nil, note.CampaignID, note.ID)
	if err != nil {
		return nil, err
	}
	pending, err := p.proposals.ListPendingByNote(ctx, nil, note.ID)
	if err != nil {
		return nil, err
	}
	if artifacts == nil {
		artifacts = []*types.Artifact{}
	}

	artifactProposals := []*types.MergeProposal{}
	var relationshipProposals []*types.MergeProposal
	for _, proposal := range pending {
		if proposal.ProposalType == types.ProposalRelationship {
			relationshipProposals = append(relationshipProposals, proposal)
		} else {
			artifactProposals = append(artifactProposals, proposal)
		}
	}

	result := &Result{
		NoteID:                     note.ID,
		Success:                    note.ProcessingStatus == types.ProcessingCompleted,
		Artifacts:                  artifacts,
		RelationshipCount:          len(relationships),
		RequiresUserConfirmation:   len(pending) > 0,
		ArtifactMergeProposals:     artifactProposals,
		RelationshipMergeProposals: relationshipProposals,
	}

	// Processing outcome persisted at completion; absent on notes processed
	// before completion or that never completed.
	if len(note.DedupSummary) > 0 {
		var summary DedupSummary
		if err := json.Unmarshal(note.DedupSummary, &summary); err == nil {
			result.DeduplicationResult = &summary
		}
	}
	if len(note.RejectedRelationships) > 0 {
		var rejected []extraction.RejectedRelationship
		if err := json.Unmarshal(note.RejectedRelationships, &rejected); err == nil {
			result.RejectedRelationships = rejected
		}
	}
	return result, nil
}

// recordOutcome persists the dedup summary and rejected relationships on the
// note row so BuildResult can surface them after a restart. Best effort; the
// counts are advisory.
func (p *Pipeline) recordOutcome(ctx context.Context, noteID uuid.UUID, summary *DedupSummary, rejected []extraction.RejectedRelationship) {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		p.log.Warn("dedup summary marshal failed", "note_id", noteID, "error", err)
		return
	}
	if rejected == nil {
		rejected = []extraction.RejectedRelationship{}
	}
	rejectedJSON, err := json.Marshal(rejected)
	if err != nil {
		p.log.Warn("rejected relationships marshal failed", "note_id", noteID, "error", err)
		return
	}
	if err := p.notes.RecordProcessingOutcome(ctx, nil, noteID, datatypes.JSON(summaryJSON), datatypes.JSON(rejectedJSON)); err != nil {
		p.log.Warn("processing outcome write failed", "note_id", noteID, "error", err)
	}
}

func (p *Pipeline) setProcessing(ctx context.Context, note *types.Note, status types.ProcessingStatus, errText string) error {
	if err := p.notes.SetProcessingStatus(ctx, nil, note.ID, status, errText); err != nil {
		return err
	}
	if p.publisher != nil {
		p.publisher.PublishNoteEvent(ctx, note.CampaignID, note.ID, "processing", string(status))
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, note *types.Note, cause error) {
	if err := p.setProcessing(ctx, note, types.ProcessingFailed, truncateError(cause.Error())); err != nil {
		p.log.Error("failed to mark note failed", "note_id", note.ID, "error", err)
	}
}

func truncateError(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max]
}
