package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Relationship is a labeled edge between two artifacts, with the same
// provenance lifecycle as Artifact.
type Relationship struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CampaignID uuid.UUID `gorm:"type:uuid;not null;index" json:"campaign_id"`
	Campaign   *Campaign `gorm:"constraint:OnDelete:CASCADE;foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`

	SourceArtifactID uuid.UUID `gorm:"type:uuid;not null;index" json:"source_artifact_id"`
	TargetArtifactID uuid.UUID `gorm:"type:uuid;not null;index" json:"target_artifact_id"`

	Label       string `gorm:"not null" json:"label"`
	Description string `json:"description"`

	SourceNoteIDs datatypes.JSON `gorm:"type:jsonb;column:source_note_ids" json:"source_note_ids"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Relationship) TableName() string {
	return "relationship"
}

func (r *Relationship) SourceNotes() []uuid.UUID {
	if r == nil {
		return nil
	}
	return DecodeNoteIDs(r.SourceNoteIDs)
}
