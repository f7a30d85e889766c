package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const MaxNoteWords = 500

// Note is immutable once embedded, except for processing and sync-status
// fields. The relational row must exist before any sync attempt runs.
type Note struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CampaignID uuid.UUID `gorm:"type:uuid;not null;index" json:"campaign_id"`
	Campaign   *Campaign `gorm:"constraint:OnDelete:CASCADE;foreignKey:CampaignID;references:ID" json:"campaign,omitempty"`

	Title     string `gorm:"not null" json:"title"`
	Content   string `gorm:"not null" json:"content"`
	WordCount int    `gorm:"not null" json:"word_count"`

	// An override note supersedes an earlier note's claims without deleting
	// it; the reason is free text for the table's benefit.
	Override       bool   `gorm:"not null;default:false" json:"override"`
	OverrideReason string `json:"override_reason,omitempty"`

	ProcessingStatus ProcessingStatus `gorm:"not null;default:pending;check:processing_status IN ('pending','processing','completed','failed')" json:"processing_status"`
	ProcessingError  string           `json:"processing_error,omitempty"`

	QdrantSyncStatus   SyncStatus `gorm:"column:qdrant_sync_status;not null;default:pending;check:qdrant_sync_status IN ('pending','syncing','synced','error','retry')" json:"qdrant_sync_status"`
	QdrantSyncError    string     `gorm:"column:qdrant_sync_error" json:"qdrant_sync_error,omitempty"`
	QdrantLastSyncAt   *time.Time `gorm:"column:qdrant_last_sync_at" json:"qdrant_last_sync_at,omitempty"`
	QdrantSyncAttempts int        `gorm:"column:qdrant_sync_attempts;not null;default:0" json:"qdrant_sync_attempts"`

	GraphSyncStatus   SyncStatus `gorm:"column:graph_sync_status;not null;default:pending;check:graph_sync_status IN ('pending','syncing','synced','error','retry')" json:"graph_sync_status"`
	GraphSyncError    string     `gorm:"column:graph_sync_error" json:"graph_sync_error,omitempty"`
	GraphLastSyncAt   *time.Time `gorm:"column:graph_last_sync_at" json:"graph_last_sync_at,omitempty"`
	GraphSyncAttempts int        `gorm:"column:graph_sync_attempts;not null;default:0" json:"graph_sync_attempts"`

	// Processing outcome persisted at completion so the result endpoint can
	// rebuild the full response after a restart.
	DedupSummary          datatypes.JSON `gorm:"type:jsonb" json:"dedup_summary,omitempty"`
	RejectedRelationships datatypes.JSON `gorm:"type:jsonb" json:"rejected_relationships,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Note) TableName() string {
	return "note"
}

// FullySynced reports whether both projections have converged.
func (n *Note) FullySynced() bool {
	return n != nil && n.QdrantSyncStatus == SyncSynced && n.GraphSyncStatus == SyncSynced
}

func CountWords(content string) int {
	return len(strings.Fields(content))
}
