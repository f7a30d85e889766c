package dedup

import "testing"

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg := ConfigFromEnv()
	if cfg.CandidateLimit != 5 {
		t.Fatalf("candidate limit: want=5 got=%d", cfg.CandidateLimit)
	}
	if cfg.SimilarityThreshold != 0.7 {
		t.Fatalf("similarity threshold: want=0.7 got=%v", cfg.SimilarityThreshold)
	}
	if cfg.ConfidenceThreshold != 95 {
		t.Fatalf("confidence threshold: want=95 got=%d", cfg.ConfidenceThreshold)
	}
	if cfg.DegradeOnRetrievalError {
		t.Fatalf("degrade: want=false got=true")
	}
}

func TestConfigFromEnvRejectsOutOfRange(t *testing.T) {
	t.Setenv("DEDUP_CANDIDATE_LIMIT", "50")
	t.Setenv("DEDUP_SIMILARITY_THRESHOLD", "1.3")
	t.Setenv("DEDUP_LLM_CONFIDENCE_THRESHOLD", "-5")

	cfg := ConfigFromEnv()
	if cfg.CandidateLimit != 5 {
		t.Fatalf("candidate limit: want=5 got=%d", cfg.CandidateLimit)
	}
	if cfg.SimilarityThreshold != 0.7 {
		t.Fatalf("similarity threshold: want=0.7 got=%v", cfg.SimilarityThreshold)
	}
	if cfg.ConfidenceThreshold != 95 {
		t.Fatalf("confidence threshold: want=95 got=%d", cfg.ConfidenceThreshold)
	}
}

func TestConfigFromEnvAcceptsBounds(t *testing.T) {
	t.Setenv("DEDUP_CANDIDATE_LIMIT", "20")
	t.Setenv("DEDUP_SIMILARITY_THRESHOLD", "0")
	t.Setenv("DEDUP_LLM_CONFIDENCE_THRESHOLD", "100")
	t.Setenv("DEDUP_DEGRADE_ON_RETRIEVAL_ERROR", "true")

	cfg := ConfigFromEnv()
	if cfg.CandidateLimit != 20 {
		t.Fatalf("candidate limit: want=20 got=%d", cfg.CandidateLimit)
	}
	if cfg.SimilarityThreshold != 0 {
		t.Fatalf("similarity threshold: want=0 got=%v", cfg.SimilarityThreshold)
	}
	if cfg.ConfidenceThreshold != 100 {
		t.Fatalf("confidence threshold: want=100 got=%d", cfg.ConfidenceThreshold)
	}
	if !cfg.DegradeOnRetrievalError {
		t.Fatalf("degrade: want=true got=false")
	}
}

func TestIsAutoMergeEnabled(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.IsAutoMergeEnabled() {
		t.Fatalf("threshold 95: want=true got=false")
	}
	cfg.ConfidenceThreshold = 100
	if cfg.IsAutoMergeEnabled() {
		t.Fatalf("threshold 100: want=false got=true")
	}
}
