package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/tavernfall/loreweave-backend/internal/pkg/errors"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/openai"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

// ExtractedArtifact is the transient shape produced by the artifact pass.
// It is not persisted; deduplication decides whether it becomes a row or a
// merge into an existing one.
type ExtractedArtifact struct {
	Name             string                 `json:"name"`
	Category         types.ArtifactCategory `json:"category"`
	Description      string                 `json:"description"`
	ShortDescription string                 `json:"shortDescription"`
}

// ExtractedRelationship references artifacts by name; the pipeline resolves
// names to ids after artifact deduplication settles.
type ExtractedRelationship struct {
	SourceName  string `json:"sourceName"`
	TargetName  string `json:"targetName"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// RejectedRelationship is reported back to the caller instead of guessing an
// endpoint the model named but the artifact pass never produced.
type RejectedRelationship struct {
	Relationship ExtractedRelationship `json:"relationship"`
	Reason       string                `json:"reason"`
}

type Extractor struct {
	ai  openai.Client
	log *logger.Logger
}

func NewExtractor(ai openai.Client, baseLog *logger.Logger) *Extractor {
	return &Extractor{
		ai:  ai,
		log: baseLog.With("component", "Extractor"),
	}
}

const artifactSystemPrompt = `You extract narrative entities from tabletop RPG session notes.
Return every character, location, item, event or faction the note mentions.
Use the note's own wording for names. Keep descriptions grounded in the note;
do not invent facts. shortDescription is one sentence.`

const relationshipSystemPrompt = `You extract relationships between named entities in tabletop RPG session notes.
Only use entity names from the provided list, exactly as written there.
The label is a short verb phrase such as "allied with" or "located in".
Do not invent relationships the note does not state or strongly imply.`

type artifactPayload struct {
	Artifacts []struct {
		Name             string `json:"name"`
		Category         string `json:"category"`
		Description      string `json:"description"`
		ShortDescription string `json:"shortDescription"`
	} `json:"artifacts"`
}

type relationshipPayload struct {
	Relationships []struct {
		SourceName  string `json:"sourceName"`
		TargetName  string `json:"targetName"`
		Label       string `json:"label"`
		Description string `json:"description"`
	} `json:"relationships"`
}

// ExtractArtifacts runs the artifact pass over one note. Output that fails
// the schema parse is an ExtractionError carrying the raw text; it is never
// coerced into an empty result.
func (e *Extractor) ExtractArtifacts(ctx context.Context, noteTitle, noteContent string) ([]ExtractedArtifact, error) {
	user := fmt.Sprintf("Note title: %s\n\nNote content:\n%s", noteTitle, noteContent)

	raw, err := e.ai.GenerateJSON(ctx, "extract_artifacts", artifactSystemPrompt, user, "note_artifacts", artifactSchema())
	if err != nil {
		return nil, &apperrors.ExtractionError{Stage: "artifacts", Cause: err}
	}

	var payload artifactPayload
	if err := strictUnmarshal(raw, &payload); err != nil {
		return nil, &apperrors.ExtractionError{Stage: "artifacts", RawText: string(raw), Cause: err}
	}

	out := make([]ExtractedArtifact, 0, len(payload.Artifacts))
	for _, a := range payload.Artifacts {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		out = append(out, ExtractedArtifact{
			Name:             name,
			Category:         types.NormalizeCategory(a.Category),
			Description:      strings.TrimSpace(a.Description),
			ShortDescription: strings.TrimSpace(a.ShortDescription),
		})
	}
	return out, nil
}

// ExtractRelationships runs the relationship pass. knownNames is the final
// set of artifact names for the note after deduplication; edges referencing
// anything outside it come back as rejections, not errors.
func (e *Extractor) ExtractRelationships(ctx context.Context, noteTitle, noteContent string, knownNames []string) ([]ExtractedRelationship, []RejectedRelationship, error) {
	if len(knownNames) == 0 {
		return nil, nil, nil
	}

	user := fmt.Sprintf(
		"Known entities:\n- %s\n\nNote title: %s\n\nNote content:\n%s",
		strings.Join(knownNames, "\n- "), noteTitle, noteContent,
	)

	raw, err := e.ai.GenerateJSON(ctx, "extract_relationships", relationshipSystemPrompt, user, "note_relationships", relationshipSchema())
	if err != nil {
		return nil, nil, &apperrors.ExtractionError{Stage: "relationships", Cause: err}
	}

	var payload relationshipPayload
	if err := strictUnmarshal(raw, &payload); err != nil {
		return nil, nil, &apperrors.ExtractionError{Stage: "relationships", RawText: string(raw), Cause: err}
	}

	known := make(map[string]bool, len(knownNames))
	for _, n := range knownNames {
		known[types.NameKeyOf(n)] = true
	}

	var accepted []ExtractedRelationship
	var rejected []RejectedRelationship
	for _, r := range payload.Relationships {
		rel := ExtractedRelationship{
			SourceName:  strings.TrimSpace(r.SourceName),
			TargetName:  strings.TrimSpace(r.TargetName),
			Label:       strings.TrimSpace(r.Label),
			Description: strings.TrimSpace(r.Description),
		}
		if rel.SourceName == "" || rel.TargetName == "" || rel.Label == "" {
			rejected = append(rejected, RejectedRelationship{Relationship: rel, Reason: "missing source, target or label"})
			continue
		}
		if !known[types.NameKeyOf(rel.SourceName)] {
			rejected = append(rejected, RejectedRelationship{Relationship: rel, Reason: "unresolved source entity: " + rel.SourceName})
			continue
		}
		if !known[types.NameKeyOf(rel.TargetName)] {
			rejected = append(rejected, RejectedRelationship{Relationship: rel, Reason: "unresolved target entity: " + rel.TargetName})
			continue
		}
		accepted = append(accepted, rel)
	}
	if len(rejected) > 0 {
		e.log.Warn("relationships rejected during extraction", "rejected", len(rejected), "accepted", len(accepted))
	}
	return accepted, rejected, nil
}

func strictUnmarshal(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	// Trailing tokens mean the model emitted more than one JSON value.
	if dec.More() {
		return fmt.Errorf("trailing content after JSON value")
	}
	return nil
}
