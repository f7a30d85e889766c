package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ArtifactCategory string

const (
	CategoryCharacter ArtifactCategory = "character"
	CategoryLocation  ArtifactCategory = "location"
	CategoryItem      ArtifactCategory = "item"
	CategoryEvent     ArtifactCategory = "event"
	CategoryFaction   ArtifactCategory = "faction"
	CategoryOther     ArtifactCategory = "other"
)

func NormalizeCategory(raw string) ArtifactCategory {
	switch ArtifactCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryCharacter:
		return CategoryCharacter
	case CategoryLocation:
		return CategoryLocation
	case CategoryItem:
		return CategoryItem
	case CategoryEvent:
		return CategoryEvent
	case CategoryFaction:
		return CategoryFaction
	default:
		return CategoryOther
	}
}

// Artifact is a narrative entity in the campaign knowledge graph. Created
// by extraction, mutated only by merge resolution; deduplication guarantees
// at most one row per real-world entity per campaign.
type Artifact struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CampaignID uuid.UUID `gorm:"type:uuid;not null;index:idx_artifact_campaign;index:idx_artifact_campaign_name_key,unique" json:"campaign_id"`
	Campaign   *Campaign `gorm:"constraint:OnDelete:CASCADE;foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`

	Name string `gorm:"not null" json:"name"`
	// NameKey is the normalized form used for the create-time existence
	// re-check under the campaign lock.
	NameKey          string           `gorm:"column:name_key;not null;index:idx_artifact_campaign_name_key,unique" json:"-"`
	Category         ArtifactCategory `gorm:"not null" json:"category"`
	Description      string           `json:"description"`
	ShortDescription string           `json:"short_description"`

	SourceNoteIDs datatypes.JSON `gorm:"type:jsonb;column:source_note_ids" json:"source_note_ids"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Artifact) TableName() string {
	return "artifact"
}

func (a *Artifact) SourceNotes() []uuid.UUID {
	if a == nil {
		return nil
	}
	return DecodeNoteIDs(a.SourceNoteIDs)
}

// NameKeyOf collapses case and internal whitespace; "The  Inn of the Last
// Home" and "the inn of the last home" are the same key.
func NameKeyOf(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}
