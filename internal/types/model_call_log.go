package types

import (
	"time"

	"github.com/google/uuid"
)

// ModelCallLog records token usage and latency of one model round-trip,
// attributed to a pipeline stage. Write-only from the pipeline's view.
type ModelCallLog struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Kind         string    `gorm:"not null" json:"kind"`
	Model        string    `gorm:"not null" json:"model"`
	Purpose      string    `gorm:"not null;index" json:"purpose"`
	InputTokens  int       `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens int       `gorm:"not null;default:0" json:"output_tokens"`
	TotalTokens  int       `gorm:"not null;default:0" json:"total_tokens"`
	LatencyMs    int64     `gorm:"not null;default:0" json:"latency_ms"`
	ErrorText    string    `json:"error_text,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ModelCallLog) TableName() string {
	return "model_call_log"
}
