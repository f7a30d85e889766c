package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tavernfall/loreweave-backend/internal/extraction"
	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/openai"
	"github.com/tavernfall/loreweave-backend/internal/repos"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

type Outcome string

const (
	// OutcomeCreated means the item became a new artifact row.
	OutcomeCreated Outcome = "created_new"
	// OutcomeAutoMerged means a high-confidence match folded the item into
	// an existing artifact without user involvement.
	OutcomeAutoMerged Outcome = "auto_merged"
	// OutcomeProposed means a plausible match is waiting on the user; the
	// item is held on the proposal, not persisted as an artifact.
	OutcomeProposed Outcome = "proposal_pending"
)

// ArtifactDecision is the engine's verdict for one extracted item.
type ArtifactDecision struct {
	Outcome    Outcome
	Item       extraction.ExtractedArtifact
	Artifact   *types.Artifact      // set for created_new and auto_merged
	Proposal   *types.MergeProposal // set for proposal_pending and auto_merged (audit row)
	Confidence int
	Reasoning  string
	// AdjudicationFailed reports the fallback-to-new path: candidates were
	// found but the judgment call failed, so the item was created rather
	// than merged on a guess.
	AdjudicationFailed bool
}

// Engine runs two-phase deduplication for one extracted artifact: ANN
// candidate filter, then an LLM same-entity judgment against the survivors.
// Callers must hold the campaign lock; the engine assumes no concurrent
// create for the same campaign.
type Engine struct {
	cfg           Config
	ai            openai.Client
	retriever     *Retriever
	resolver      *Resolver
	artifacts     repos.ArtifactRepo
	relationships repos.RelationshipRepo
	proposals     repos.MergeProposalRepo
	log           *logger.Logger
}

func NewEngine(
	cfg Config,
	ai openai.Client,
	retriever *Retriever,
	resolver *Resolver,
	artifacts repos.ArtifactRepo,
	relationships repos.RelationshipRepo,
	proposals repos.MergeProposalRepo,
	baseLog *logger.Logger,
) *Engine {
	return &Engine{
		cfg:           cfg,
		ai:            ai,
		retriever:     retriever,
		resolver:      resolver,
		artifacts:     artifacts,
		relationships: relationships,
		proposals:     proposals,
		log:           baseLog.With("component", "DedupEngine"),
	}
}

const adjudicationSystemPrompt = `You judge whether a newly extracted RPG campaign entity is the same
real-world entity as each existing candidate. Same entity means the same
character, place, item, event or faction, even under different spellings,
titles or nicknames. Different entities that merely resemble each other are
not the same. Give one verdict per candidate with confidence 0-100.`

type verdict struct {
	CandidateID string `json:"candidateId"`
	Same        bool   `json:"same"`
	Confidence  int    `json:"confidence"`
	Reasoning   string `json:"reasoning"`
}

type verdictPayload struct {
	Verdicts []verdict `json:"verdicts"`
}

func verdictSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"verdicts"},
		"properties": map[string]any{
			"verdicts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"candidateId", "same", "confidence", "reasoning"},
					"properties": map[string]any{
						"candidateId": map[string]any{"type": "string"},
						"same":        map[string]any{"type": "boolean"},
						"confidence":  map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
						"reasoning":   map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// ResolveArtifact decides what one extracted item becomes. Decision rule:
// exact normalized-name hit merges directly; otherwise the best affirmative
// adjudication verdict auto-merges at or above the confidence threshold,
// becomes a pending proposal below it, and anything else creates a new
// artifact. A failed adjudication falls back to creating the item.
func (e *Engine) ResolveArtifact(ctx context.Context, campaignID, noteID uuid.UUID, item extraction.ExtractedArtifact) (*ArtifactDecision, error) {
	// Existence re-check under the campaign lock. Two notes naming the same
	// entity must not race into two rows.
	existing, err := e.artifacts.GetByNameKey(ctx, nil, campaignID, types.NameKeyOf(item.Name))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		merged, err := e.resolver.MergeArtifact(ctx, existing, item, noteID)
		if err != nil {
			return nil, err
		}
		return &ArtifactDecision{
			Outcome:    OutcomeAutoMerged,
			Item:       item,
			Artifact:   merged,
			Confidence: 100,
			Reasoning:  "exact name match",
		}, nil
	}

	candidates, err := e.retriever.ArtifactCandidates(ctx, campaignID, item)
	if err != nil {
		var retrievalErr *apperrors.CandidateRetrievalError
		if errors.As(err, &retrievalErr) && e.cfg.DegradeOnRetrievalError {
			e.log.Warn("candidate retrieval failed, degrading to empty candidate list",
				"campaign_id", campaignID, "error", err)
			candidates = nil
		} else {
			return nil, err
		}
	}

	if len(candidates) == 0 {
		created, err := e.resolver.CreateArtifact(ctx, campaignID, noteID, item)
		if err != nil {
			return nil, err
		}
		return &ArtifactDecision{Outcome: OutcomeCreated, Item: item, Artifact: created}, nil
	}

	best, err := e.adjudicate(ctx, item, candidates)
	if err != nil {
		e.log.Warn("adjudication failed, treating item as new",
			"campaign_id", campaignID, "name", item.Name, "error", err)
		created, createErr := e.resolver.CreateArtifact(ctx, campaignID, noteID, item)
		if createErr != nil {
			return nil, createErr
		}
		return &ArtifactDecision{
			Outcome:            OutcomeCreated,
			Item:               item,
			Artifact:           created,
			AdjudicationFailed: true,
		}, nil
	}

	if best == nil || !best.verdict.Same || best.verdict.Confidence <= 0 {
		created, err := e.resolver.CreateArtifact(ctx, campaignID, noteID, item)
		if err != nil {
			return nil, err
		}
		return &ArtifactDecision{Outcome: OutcomeCreated, Item: item, Artifact: created}, nil
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}

	if e.cfg.IsAutoMergeEnabled() && best.verdict.Confidence >= e.cfg.ConfidenceThreshold {
		merged, err := e.resolver.MergeArtifact(ctx, best.candidate.Artifact, item, noteID)
		if err != nil {
			return nil, err
		}
		// Audit row; already settled, never shown as pending.
		audit, err := e.proposals.Create(ctx, nil, &types.MergeProposal{
			CampaignID:   campaignID,
			NoteID:       noteID,
			ProposalType: types.ProposalArtifact,
			NewItem:      payload,
			ExistingID:   best.candidate.Artifact.ID,
			Confidence:   best.verdict.Confidence,
			Reasoning:    best.verdict.Reasoning,
			AutoMerge:    true,
			Status:       types.ProposalApplied,
		})
		if err != nil {
			e.log.Warn("auto-merge audit proposal insert failed", "error", err)
		}
		return &ArtifactDecision{
			Outcome:    OutcomeAutoMerged,
			Item:       item,
			Artifact:   merged,
			Proposal:   audit,
			Confidence: best.verdict.Confidence,
			Reasoning:  best.verdict.Reasoning,
		}, nil
	}

	proposal, err := e.proposals.Create(ctx, nil, &types.MergeProposal{
		CampaignID:   campaignID,
		NoteID:       noteID,
		ProposalType: types.ProposalArtifact,
		NewItem:      payload,
		ExistingID:   best.candidate.Artifact.ID,
		Confidence:   best.verdict.Confidence,
		Reasoning:    best.verdict.Reasoning,
		Status:       types.ProposalPending,
	})
	if err != nil {
		return nil, err
	}
	return &ArtifactDecision{
		Outcome:    OutcomeProposed,
		Item:       item,
		Proposal:   proposal,
		Confidence: best.verdict.Confidence,
		Reasoning:  best.verdict.Reasoning,
	}, nil
}

type bestVerdict struct {
	verdict   verdict
	candidate ArtifactCandidate
}

func (e *Engine) adjudicate(ctx context.Context, item extraction.ExtractedArtifact, candidates []ArtifactCandidate) (*bestVerdict, error) {
	byID := make(map[string]ArtifactCandidate, len(candidates))
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "New entity:\nname: %s\ncategory: %s\ndescription: %s\n\nCandidates:\n",
		item.Name, item.Category, item.Description)
	for _, c := range candidates {
		id := c.Artifact.ID.String()
		byID[id] = c
		fmt.Fprintf(&prompt, "- candidateId: %s\n  name: %s\n  category: %s\n  description: %s\n",
			id, c.Artifact.Name, c.Artifact.Category, c.Artifact.Description)
	}

	raw, err := e.ai.GenerateJSON(ctx, "dedup_adjudication", adjudicationSystemPrompt, prompt.String(), "merge_verdicts", verdictSchema())
	if err != nil {
		return nil, &apperrors.AdjudicationError{Cause: err}
	}

	var payload verdictPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &apperrors.AdjudicationError{Cause: err}
	}

	var best *bestVerdict
	for _, v := range payload.Verdicts {
		c, ok := byID[v.CandidateID]
		if !ok {
			// Verdict for a candidate never offered; ignore it.
			continue
		}
		if !v.Same {
			continue
		}
		if v.Confidence < 0 {
			v.Confidence = 0
		}
		if v.Confidence > 100 {
			v.Confidence = 100
		}
		if best == nil || v.Confidence > best.verdict.Confidence {
			best = &bestVerdict{verdict: v, candidate: c}
		}
	}
	return best, nil
}

// RelationshipDecision is the engine's verdict for one extracted edge.
type RelationshipDecision struct {
	Outcome      Outcome
	Item         extraction.ExtractedRelationship
	Relationship *types.Relationship  // set for created_new and auto_merged
	Proposal     *types.MergeProposal // set for proposal_pending and auto_merged (audit row)
	Confidence   int
	Reasoning    string
	// AdjudicationFailed reports the fallback-to-new path: same-endpoint
	// edges exist but the judgment call failed, so a distinct edge was
	// created rather than merged on a guess.
	AdjudicationFailed bool
}

const relationshipAdjudicationSystemPrompt = `You judge whether a newly extracted relationship between two RPG
campaign entities expresses the same relationship as each existing edge
between the same two entities. The same relationship under a different
phrasing ("allied with" vs "ally of") is the same edge; a genuinely
different relationship between the same entities ("allied with" vs
"betrayed") is not. Give one verdict per candidate with confidence 0-100.`

// ResolveRelationship decides what one extracted edge becomes. An exact
// label-key hit between the endpoints merges directly; otherwise existing
// edges between the same endpoints are adjudicated as paraphrase candidates.
// The best affirmative verdict auto-merges at or above the confidence
// threshold, becomes a pending proposal below it, and anything else creates
// a distinct edge under the extracted label.
func (e *Engine) ResolveRelationship(ctx context.Context, campaignID, noteID, sourceID, targetID uuid.UUID, item extraction.ExtractedRelationship) (*RelationshipDecision, error) {
	existing, err := e.relationships.FindByEndpoints(ctx, nil, campaignID, sourceID, targetID, item.Label)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		merged, err := e.resolver.mergeRelationship(ctx, existing, item, noteID)
		if err != nil {
			return nil, err
		}
		return &RelationshipDecision{
			Outcome:      OutcomeAutoMerged,
			Item:         item,
			Relationship: merged,
			Confidence:   100,
			Reasoning:    "exact label match",
		}, nil
	}

	siblings, err := e.relationships.ListByEndpoints(ctx, nil, campaignID, sourceID, targetID)
	if err != nil {
		return nil, err
	}

	// A sibling already carrying this note is this edge from an earlier run
	// of the same note under a different phrasing; fold into it.
	for _, sibling := range siblings {
		if types.ContainsNoteID(sibling.SourceNotes(), noteID) {
			merged, err := e.resolver.mergeRelationship(ctx, sibling, item, noteID)
			if err != nil {
				return nil, err
			}
			return &RelationshipDecision{
				Outcome:      OutcomeAutoMerged,
				Item:         item,
				Relationship: merged,
				Confidence:   100,
				Reasoning:    "edge already recorded for this note",
			}, nil
		}
	}

	if len(siblings) == 0 {
		created, err := e.resolver.createRelationship(ctx, campaignID, noteID, sourceID, targetID, item)
		if err != nil {
			return nil, err
		}
		return &RelationshipDecision{Outcome: OutcomeCreated, Item: item, Relationship: created}, nil
	}

	// Replay guard: a pending proposal already holds this edge.
	held, err := e.pendingRelationshipProposal(ctx, noteID, sourceID, targetID, item.Label)
	if err != nil {
		return nil, err
	}
	if held != nil {
		return &RelationshipDecision{
			Outcome:    OutcomeProposed,
			Item:       item,
			Proposal:   held,
			Confidence: held.Confidence,
			Reasoning:  held.Reasoning,
		}, nil
	}

	best, err := e.adjudicateRelationship(ctx, item, siblings)
	if err != nil {
		e.log.Warn("relationship adjudication failed, treating edge as distinct",
			"campaign_id", campaignID, "label", item.Label, "error", err)
		created, createErr := e.resolver.createRelationship(ctx, campaignID, noteID, sourceID, targetID, item)
		if createErr != nil {
			return nil, createErr
		}
		return &RelationshipDecision{
			Outcome:            OutcomeCreated,
			Item:               item,
			Relationship:       created,
			AdjudicationFailed: true,
		}, nil
	}

	if best == nil || !best.verdict.Same || best.verdict.Confidence <= 0 {
		created, err := e.resolver.createRelationship(ctx, campaignID, noteID, sourceID, targetID, item)
		if err != nil {
			return nil, err
		}
		return &RelationshipDecision{Outcome: OutcomeCreated, Item: item, Relationship: created}, nil
	}

	payload, err := json.Marshal(relationshipProposalItem{
		ExtractedRelationship: item,
		SourceArtifactID:      sourceID,
		TargetArtifactID:      targetID,
	})
	if err != nil {
		return nil, err
	}

	if e.cfg.IsAutoMergeEnabled() && best.verdict.Confidence >= e.cfg.ConfidenceThreshold {
		merged, err := e.resolver.mergeRelationship(ctx, best.relationship, item, noteID)
		if err != nil {
			return nil, err
		}
		// Audit row; already settled, never shown as pending.
		audit, err := e.proposals.Create(ctx, nil, &types.MergeProposal{
			CampaignID:   campaignID,
			NoteID:       noteID,
			ProposalType: types.ProposalRelationship,
			NewItem:      payload,
			ExistingID:   best.relationship.ID,
			Confidence:   best.verdict.Confidence,
			Reasoning:    best.verdict.Reasoning,
			AutoMerge:    true,
			Status:       types.ProposalApplied,
		})
		if err != nil {
			e.log.Warn("auto-merge audit proposal insert failed", "error", err)
		}
		return &RelationshipDecision{
			Outcome:      OutcomeAutoMerged,
			Item:         item,
			Relationship: merged,
			Proposal:     audit,
			Confidence:   best.verdict.Confidence,
			Reasoning:    best.verdict.Reasoning,
		}, nil
	}

	proposal, err := e.proposals.Create(ctx, nil, &types.MergeProposal{
		CampaignID:   campaignID,
		NoteID:       noteID,
		ProposalType: types.ProposalRelationship,
		NewItem:      payload,
		ExistingID:   best.relationship.ID,
		Confidence:   best.verdict.Confidence,
		Reasoning:    best.verdict.Reasoning,
		Status:       types.ProposalPending,
	})
	if err != nil {
		return nil, err
	}
	return &RelationshipDecision{
		Outcome:    OutcomeProposed,
		Item:       item,
		Proposal:   proposal,
		Confidence: best.verdict.Confidence,
		Reasoning:  best.verdict.Reasoning,
	}, nil
}

// pendingRelationshipProposal returns the open proposal already holding an
// edge with these endpoints and label, or nil.
func (e *Engine) pendingRelationshipProposal(ctx context.Context, noteID, sourceID, targetID uuid.UUID, label string) (*types.MergeProposal, error) {
	pending, err := e.proposals.ListPendingByNote(ctx, nil, noteID)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if p.ProposalType != types.ProposalRelationship {
			continue
		}
		var held relationshipProposalItem
		if err := json.Unmarshal(p.NewItem, &held); err != nil {
			continue
		}
		if held.SourceArtifactID == sourceID && held.TargetArtifactID == targetID &&
			types.NameKeyOf(held.Label) == types.NameKeyOf(label) {
			return p, nil
		}
	}
	return nil, nil
}

type bestRelationshipVerdict struct {
	verdict      verdict
	relationship *types.Relationship
}

func (e *Engine) adjudicateRelationship(ctx context.Context, item extraction.ExtractedRelationship, siblings []*types.Relationship) (*bestRelationshipVerdict, error) {
	byID := make(map[string]*types.Relationship, len(siblings))
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "New relationship:\nlabel: %s\ndescription: %s\n\nExisting edges between the same entities:\n",
		item.Label, item.Description)
	for _, s := range siblings {
		id := s.ID.String()
		byID[id] = s
		fmt.Fprintf(&prompt, "- candidateId: %s\n  label: %s\n  description: %s\n",
			id, s.Label, s.Description)
	}

	raw, err := e.ai.GenerateJSON(ctx, "relationship_adjudication", relationshipAdjudicationSystemPrompt, prompt.String(), "relationship_verdicts", verdictSchema())
	if err != nil {
		return nil, &apperrors.AdjudicationError{Cause: err}
	}

	var payload verdictPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &apperrors.AdjudicationError{Cause: err}
	}

	var best *bestRelationshipVerdict
	for _, v := range payload.Verdicts {
		s, ok := byID[v.CandidateID]
		if !ok {
			continue
		}
		if !v.Same {
			continue
		}
		if v.Confidence < 0 {
			v.Confidence = 0
		}
		if v.Confidence > 100 {
			v.Confidence = 100
		}
		if best == nil || v.Confidence > best.verdict.Confidence {
			best = &bestRelationshipVerdict{verdict: v, relationship: s}
		}
	}
	return best, nil
}
