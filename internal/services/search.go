package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/openai"
	"github.com/tavernfall/loreweave-backend/internal/platform/vector"
	"github.com/tavernfall/loreweave-backend/internal/repos"
)

const (
	searchDefaultLimit = 10
	searchMaxLimit     = 50
	previewRunes       = 200
)

type NoteSearchResult struct {
	NoteID         uuid.UUID `json:"noteId"`
	Title          string    `json:"title"`
	ContentPreview string    `json:"contentPreview"`
	Score          float64   `json:"score"`
}

type SearchService interface {
	// SearchNotes returns notes ranked by semantic similarity to the query.
	SearchNotes(ctx context.Context, campaignID uuid.UUID, query string, limit int) ([]NoteSearchResult, error)
}

type searchService struct {
	campaigns repos.CampaignRepo
	notes     repos.NoteRepo
	ai        openai.Client
	store     vector.Store
	log       *logger.Logger
}

func NewSearchService(campaigns repos.CampaignRepo, notes repos.NoteRepo, ai openai.Client, store vector.Store, baseLog *logger.Logger) SearchService {
	return &searchService{
		campaigns: campaigns,
		notes:     notes,
		ai:        ai,
		store:     store,
		log:       baseLog.With("service", "SearchService"),
	}
}

func (s *searchService) SearchNotes(ctx context.Context, campaignID uuid.UUID, query string, limit int) ([]NoteSearchResult, error) {
	if _, err := s.campaigns.GetByID(ctx, nil, campaignID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &apperrors.ValidationError{Field: "query", Message: "required"}
	}
	if limit <= 0 {
		limit = searchDefaultLimit
	}
	if limit > searchMaxLimit {
		limit = searchMaxLimit
	}

	embeddings, err := s.ai.Embed(ctx, "search_notes", []string{query})
	if err != nil {
		return nil, err
	}

	matches, err := s.store.QueryMatches(
		ctx,
		vector.CampaignNamespace(campaignID.String()),
		embeddings[0],
		limit,
		map[string]string{"kind": "note"},
	)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []NoteSearchResult{}, nil
	}

	scoreByID := make(map[uuid.UUID]float64, len(matches))
	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		scoreByID[id] = m.Score
	}

	// Hits are only suggestions; rows are the truth. A vector hit without a
	// row is dropped silently.
	rows, err := s.notes.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]int, len(rows))
	out := make([]NoteSearchResult, 0, len(rows))
	for _, n := range rows {
		if n == nil || n.CampaignID != campaignID {
			continue
		}
		byID[n.ID] = len(out)
		out = append(out, NoteSearchResult{
			NoteID:         n.ID,
			Title:          n.Title,
			ContentPreview: preview(n.Content),
			Score:          scoreByID[n.ID],
		})
	}

	// Restore the ranked order the vector store returned.
	ranked := make([]NoteSearchResult, 0, len(out))
	for _, id := range ids {
		if idx, ok := byID[id]; ok {
			ranked = append(ranked, out[idx])
		}
	}
	return ranked, nil
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return strings.TrimSpace(string(runes[:previewRunes])) + "..."
}
