package dedup

import (
	"github.com/tavernfall/loreweave-backend/internal/platform/envutil"
)

// Config bounds the two-phase deduplication. Out-of-range values fall back
// to defaults rather than failing startup.
type Config struct {
	// CandidateLimit is the ANN top-K, clamped to [1, 20].
	CandidateLimit int
	// SimilarityThreshold drops candidates below this score, in [0, 1].
	SimilarityThreshold float64
	// ConfidenceThreshold is the minimum adjudication confidence for an
	// automatic merge, in [0, 100]. At 100 auto-merge is disabled and every
	// positive match becomes a user-facing proposal.
	ConfidenceThreshold int
	// DegradeOnRetrievalError treats a failed candidate lookup as an empty
	// candidate list instead of failing the note.
	DegradeOnRetrievalError bool
}

func DefaultConfig() Config {
	return Config{
		CandidateLimit:          5,
		SimilarityThreshold:     0.7,
		ConfidenceThreshold:     95,
		DegradeOnRetrievalError: false,
	}
}

func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		CandidateLimit:          envutil.BoundedInt("DEDUP_CANDIDATE_LIMIT", 1, 20, def.CandidateLimit),
		SimilarityThreshold:     envutil.BoundedFloat("DEDUP_SIMILARITY_THRESHOLD", 0, 1, def.SimilarityThreshold),
		ConfidenceThreshold:     envutil.BoundedInt("DEDUP_LLM_CONFIDENCE_THRESHOLD", 0, 100, def.ConfidenceThreshold),
		DegradeOnRetrievalError: envutil.Bool("DEDUP_DEGRADE_ON_RETRIEVAL_ERROR", def.DegradeOnRetrievalError),
	}
}

func (c Config) IsAutoMergeEnabled() bool {
	return c.ConfidenceThreshold < 100
}
