package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ProposalType string

const (
	ProposalArtifact     ProposalType = "artifact"
	ProposalRelationship ProposalType = "relationship"
)

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalApplied  ProposalStatus = "applied"
)

// MergeProposal is a deduplication decision awaiting the user. The new item
// stays unpersisted (held in NewItem) until the proposal is approved or
// rejected; applying an approved proposal twice is a no-op.
type MergeProposal struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CampaignID uuid.UUID `gorm:"type:uuid;not null;index" json:"campaign_id"`
	NoteID     uuid.UUID `gorm:"type:uuid;not null;index" json:"note_id"`

	ProposalType ProposalType `gorm:"not null;check:proposal_type IN ('artifact','relationship')" json:"proposal_type"`

	// NewItem is the extracted item payload (ExtractedArtifact or
	// ExtractedRelationship JSON) that would be merged or created.
	NewItem    datatypes.JSON `gorm:"type:jsonb;not null" json:"new_item"`
	ExistingID uuid.UUID      `gorm:"type:uuid;not null" json:"existing_id"`

	Confidence int    `gorm:"not null" json:"confidence"`
	Reasoning  string `json:"reasoning"`
	AutoMerge  bool   `gorm:"not null;default:false" json:"auto_merge"`

	Status ProposalStatus `gorm:"not null;default:pending;check:status IN ('pending','approved','rejected','applied')" json:"status"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (MergeProposal) TableName() string {
	return "merge_proposal"
}
