package dedup

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tavernfall/loreweave-backend/internal/extraction"
	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/openai"
	"github.com/tavernfall/loreweave-backend/internal/platform/vector"
	"github.com/tavernfall/loreweave-backend/internal/repos"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

// ArtifactCandidate pairs an existing artifact with its ANN similarity to
// the new item. Details always come from the relational store; the vector
// store only contributes ids and scores.
type ArtifactCandidate struct {
	Artifact   *types.Artifact
	Similarity float64
}

type Retriever struct {
	cfg       Config
	ai        openai.Client
	store     vector.Store
	artifacts repos.ArtifactRepo
	log       *logger.Logger
}

func NewRetriever(cfg Config, ai openai.Client, store vector.Store, artifacts repos.ArtifactRepo, baseLog *logger.Logger) *Retriever {
	return &Retriever{
		cfg:       cfg,
		ai:        ai,
		store:     store,
		artifacts: artifacts,
		log:       baseLog.With("component", "DedupRetriever"),
	}
}

// EmbeddingText is the canonical text embedded for an artifact, used both
// here and when the sync coordinator projects artifacts into the vector
// store. The two must match or retrieval quality silently degrades.
func EmbeddingText(name string, category types.ArtifactCategory, description string) string {
	return fmt.Sprintf("%s (%s): %s", name, category, description)
}

// ArtifactCandidates returns existing artifacts similar to the new item,
// best first, filtered by the similarity threshold. An empty campaign
// short-circuits without any network call.
func (r *Retriever) ArtifactCandidates(ctx context.Context, campaignID uuid.UUID, item extraction.ExtractedArtifact) ([]ArtifactCandidate, error) {
	count, err := r.artifacts.CountByCampaign(ctx, nil, campaignID)
	if err != nil {
		return nil, &apperrors.CandidateRetrievalError{Cause: err}
	}
	if count == 0 {
		return nil, nil
	}

	vecs, err := r.ai.Embed(ctx, "dedup_candidates", []string{EmbeddingText(item.Name, item.Category, item.Description)})
	if err != nil {
		return nil, &apperrors.CandidateRetrievalError{Cause: err}
	}
	if len(vecs) != 1 {
		return nil, &apperrors.CandidateRetrievalError{Cause: fmt.Errorf("expected 1 embedding, got %d", len(vecs))}
	}

	matches, err := r.store.QueryMatches(
		ctx,
		vector.CampaignNamespace(campaignID.String()),
		vecs[0],
		r.cfg.CandidateLimit,
		map[string]string{"kind": "artifact"},
	)
	if err != nil {
		return nil, &apperrors.CandidateRetrievalError{Cause: err}
	}

	ids := make([]uuid.UUID, 0, len(matches))
	scoreByID := make(map[uuid.UUID]float64, len(matches))
	order := make(map[uuid.UUID]int, len(matches))
	for i, m := range matches {
		if m.Score < r.cfg.SimilarityThreshold {
			continue
		}
		id, err := uuid.Parse(m.ID)
		if err != nil {
			r.log.Warn("vector match with unparsable id skipped", "id", m.ID)
			continue
		}
		ids = append(ids, id)
		scoreByID[id] = m.Score
		order[id] = i
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// Existence is the relational store's call. A vector hit whose row is
	// gone is a stale projection entry, not a candidate.
	rows, err := r.artifacts.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, &apperrors.CandidateRetrievalError{Cause: err}
	}

	out := make([]ArtifactCandidate, 0, len(rows))
	for _, a := range rows {
		if a == nil || a.CampaignID != campaignID {
			continue
		}
		out = append(out, ArtifactCandidate{Artifact: a, Similarity: scoreByID[a.ID]})
	}
	// GetByIDs does not preserve match order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && order[out[j].Artifact.ID] < order[out[j-1].Artifact.ID]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}
