package vector

import "context"

// Store is the narrow surface the pipeline needs from the vector database.
// Namespaces are campaign-scoped; implementations must be safe for
// concurrent use and upserts must be idempotent per vector ID so concurrent
// retries of the same note converge.
type Store interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	// QueryMatches returns IDs with their similarity scores (higher is better).
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]string) ([]Match, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
}

type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

type Match struct {
	ID    string
	Score float64
}

// CampaignNamespace scopes every vector write and query to one campaign.
func CampaignNamespace(campaignID string) string {
	return "campaign:" + campaignID
}
