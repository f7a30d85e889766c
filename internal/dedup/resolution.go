package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tavernfall/loreweave-backend/internal/extraction"
	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/repos"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

// Resolver applies merge decisions. Merges union provenance and append
// genuinely new description text; both operations are idempotent, so a
// replayed merge of the same note is a no-op.
type Resolver struct {
	artifacts     repos.ArtifactRepo
	relationships repos.RelationshipRepo
	proposals     repos.MergeProposalRepo
	log           *logger.Logger
}

func NewResolver(artifacts repos.ArtifactRepo, relationships repos.RelationshipRepo, proposals repos.MergeProposalRepo, baseLog *logger.Logger) *Resolver {
	return &Resolver{
		artifacts:     artifacts,
		relationships: relationships,
		proposals:     proposals,
		log:           baseLog.With("component", "MergeResolver"),
	}
}

func (r *Resolver) CreateArtifact(ctx context.Context, campaignID, noteID uuid.UUID, item extraction.ExtractedArtifact) (*types.Artifact, error) {
	return r.artifacts.Create(ctx, nil, &types.Artifact{
		CampaignID:       campaignID,
		Name:             item.Name,
		NameKey:          types.NameKeyOf(item.Name),
		Category:         item.Category,
		Description:      item.Description,
		ShortDescription: item.ShortDescription,
		SourceNoteIDs:    types.EncodeNoteIDs([]uuid.UUID{noteID}),
	})
}

// MergeArtifact folds the new item into an existing artifact: provenance
// union plus description append when the new text adds anything.
func (r *Resolver) MergeArtifact(ctx context.Context, existing *types.Artifact, item extraction.ExtractedArtifact, noteID uuid.UUID) (*types.Artifact, error) {
	if existing == nil {
		return nil, apperrors.ErrInvalidArgument
	}

	provenance := types.UnionNoteIDs(existing.SourceNotes(), []uuid.UUID{noteID})
	description := appendDescription(existing.Description, item.Description)

	updates := map[string]interface{}{
		"source_note_ids": types.EncodeNoteIDs(provenance),
	}
	if description != existing.Description {
		updates["description"] = description
	}
	if existing.ShortDescription == "" && item.ShortDescription != "" {
		updates["short_description"] = item.ShortDescription
	}
	if err := r.artifacts.UpdateFields(ctx, nil, existing.ID, updates); err != nil {
		return nil, err
	}

	merged := *existing
	merged.SourceNoteIDs = types.EncodeNoteIDs(provenance)
	merged.Description = description
	if existing.ShortDescription == "" && item.ShortDescription != "" {
		merged.ShortDescription = item.ShortDescription
	}
	return &merged, nil
}

// ResolveRelationship merges into an existing edge with the same endpoints
// and label, or creates a new one. Returns whether a row was created.
func (r *Resolver) ResolveRelationship(ctx context.Context, campaignID, noteID, sourceID, targetID uuid.UUID, item extraction.ExtractedRelationship) (*types.Relationship, bool, error) {
	existing, err := r.relationships.FindByEndpoints(ctx, nil, campaignID, sourceID, targetID, item.Label)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		merged, err := r.mergeRelationship(ctx, existing, item, noteID)
		if err != nil {
			return nil, false, err
		}
		return merged, false, nil
	}

	created, err := r.createRelationship(ctx, campaignID, noteID, sourceID, targetID, item)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// mergeRelationship folds the extracted edge into an existing one. The
// existing label wins; provenance union and description append keep replays
// idempotent.
func (r *Resolver) mergeRelationship(ctx context.Context, existing *types.Relationship, item extraction.ExtractedRelationship, noteID uuid.UUID) (*types.Relationship, error) {
	if existing == nil {
		return nil, apperrors.ErrInvalidArgument
	}
	provenance := types.UnionNoteIDs(existing.SourceNotes(), []uuid.UUID{noteID})
	description := appendDescription(existing.Description, item.Description)
	updates := map[string]interface{}{
		"source_note_ids": types.EncodeNoteIDs(provenance),
	}
	if description != existing.Description {
		updates["description"] = description
	}
	if err := r.relationships.UpdateFields(ctx, nil, existing.ID, updates); err != nil {
		return nil, err
	}
	merged := *existing
	merged.SourceNoteIDs = types.EncodeNoteIDs(provenance)
	merged.Description = description
	return &merged, nil
}

func (r *Resolver) createRelationship(ctx context.Context, campaignID, noteID, sourceID, targetID uuid.UUID, item extraction.ExtractedRelationship) (*types.Relationship, error) {
	return r.relationships.Create(ctx, nil, &types.Relationship{
		CampaignID:       campaignID,
		SourceArtifactID: sourceID,
		TargetArtifactID: targetID,
		Label:            item.Label,
		Description:      item.Description,
		SourceNoteIDs:    types.EncodeNoteIDs([]uuid.UUID{noteID}),
	})
}

// relationshipProposalItem is the payload held in a relationship merge
// proposal: the extracted edge plus its resolved endpoints, so the edge can
// be created or merged long after the extraction run finished.
type relationshipProposalItem struct {
	extraction.ExtractedRelationship
	SourceArtifactID uuid.UUID `json:"sourceArtifactId"`
	TargetArtifactID uuid.UUID `json:"targetArtifactId"`
}

// ProposalResolution is the outcome of resolving one pending proposal.
type ProposalResolution struct {
	ProposalID uuid.UUID
	// Applied is false when another caller already resolved the proposal.
	Applied  bool
	Approved bool
	// Artifact is the merge target (approved) or the newly created distinct
	// artifact (rejected). Nil when Applied is false.
	Artifact *types.Artifact
}

// ResolveArtifactProposal settles one pending artifact proposal. Approval
// merges the held item into the existing artifact; rejection creates it as a
// distinct artifact. Either way the claim is a compare-and-set on status, so
// a concurrent duplicate call observes Applied == false and changes nothing.
func (r *Resolver) ResolveArtifactProposal(ctx context.Context, proposalID uuid.UUID, approve bool) (*ProposalResolution, error) {
	proposal, err := r.proposals.GetByID(ctx, nil, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.ProposalType != types.ProposalArtifact {
		return nil, fmt.Errorf("proposal %s is not an artifact proposal: %w", proposalID, apperrors.ErrInvalidArgument)
	}

	var item extraction.ExtractedArtifact
	if err := json.Unmarshal(proposal.NewItem, &item); err != nil {
		return nil, fmt.Errorf("proposal %s payload unreadable: %w", proposalID, err)
	}

	claimTo := types.ProposalApproved
	if !approve {
		claimTo = types.ProposalRejected
	}
	claimed, err := r.proposals.TransitionStatus(ctx, nil, proposalID, types.ProposalPending, claimTo)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &ProposalResolution{ProposalID: proposalID, Applied: false}, nil
	}

	var artifact *types.Artifact
	if approve {
		existing, err := r.artifacts.GetByID(ctx, nil, proposal.ExistingID)
		if err != nil {
			return nil, err
		}
		artifact, err = r.MergeArtifact(ctx, existing, item, proposal.NoteID)
		if err != nil {
			return nil, err
		}
		if _, err := r.proposals.TransitionStatus(ctx, nil, proposalID, types.ProposalApproved, types.ProposalApplied); err != nil {
			r.log.Warn("proposal applied but status update failed", "proposal_id", proposalID, "error", err)
		}
	} else {
		artifact, err = r.CreateArtifact(ctx, proposal.CampaignID, proposal.NoteID, item)
		if err != nil {
			return nil, err
		}
	}
	return &ProposalResolution{ProposalID: proposalID, Applied: true, Approved: approve, Artifact: artifact}, nil
}

// RelationshipProposalResolution is the outcome of resolving one pending
// relationship proposal.
type RelationshipProposalResolution struct {
	ProposalID uuid.UUID
	// Applied is false when another caller already resolved the proposal.
	Applied  bool
	Approved bool
	// Relationship is the merge target (approved) or the newly created edge
	// (rejected). Nil when Applied is false.
	Relationship *types.Relationship
}

// ResolveRelationshipProposal settles one pending relationship proposal.
// Approval folds the held edge into the existing one; rejection creates it
// as a distinct edge under its own label. The claim is the same
// compare-and-set used for artifact proposals.
func (r *Resolver) ResolveRelationshipProposal(ctx context.Context, proposalID uuid.UUID, approve bool) (*RelationshipProposalResolution, error) {
	proposal, err := r.proposals.GetByID(ctx, nil, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.ProposalType != types.ProposalRelationship {
		return nil, fmt.Errorf("proposal %s is not a relationship proposal: %w", proposalID, apperrors.ErrInvalidArgument)
	}

	var item relationshipProposalItem
	if err := json.Unmarshal(proposal.NewItem, &item); err != nil {
		return nil, fmt.Errorf("proposal %s payload unreadable: %w", proposalID, err)
	}

	claimTo := types.ProposalApproved
	if !approve {
		claimTo = types.ProposalRejected
	}
	claimed, err := r.proposals.TransitionStatus(ctx, nil, proposalID, types.ProposalPending, claimTo)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &RelationshipProposalResolution{ProposalID: proposalID, Applied: false}, nil
	}

	var relationship *types.Relationship
	if approve {
		existing, err := r.relationships.GetByID(ctx, nil, proposal.ExistingID)
		if err != nil {
			return nil, err
		}
		relationship, err = r.mergeRelationship(ctx, existing, item.ExtractedRelationship, proposal.NoteID)
		if err != nil {
			return nil, err
		}
		if _, err := r.proposals.TransitionStatus(ctx, nil, proposalID, types.ProposalApproved, types.ProposalApplied); err != nil {
			r.log.Warn("proposal applied but status update failed", "proposal_id", proposalID, "error", err)
		}
	} else {
		relationship, err = r.createRelationship(ctx, proposal.CampaignID, proposal.NoteID, item.SourceArtifactID, item.TargetArtifactID, item.ExtractedRelationship)
		if err != nil {
			return nil, err
		}
	}
	return &RelationshipProposalResolution{ProposalID: proposalID, Applied: true, Approved: approve, Relationship: relationship}, nil
}

// appendDescription adds the new text as a paragraph unless the existing
// description already contains it.
func appendDescription(existing, incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return existing
	}
	if existing == "" {
		return incoming
	}
	if strings.Contains(strings.ToLower(existing), strings.ToLower(incoming)) {
		return existing
	}
	return existing + "\n\n" + incoming
}
