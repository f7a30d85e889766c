package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/neo4jdb"
	"github.com/tavernfall/loreweave-backend/internal/types"
)

// Node and Edge are the graph-browse projection returned to the API.
type Node struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Category         string `json:"category"`
	ShortDescription string `json:"shortDescription,omitempty"`
}

type Edge struct {
	ID          string `json:"id"`
	SourceID    string `json:"sourceId"`
	TargetID    string `json:"targetId"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// UpsertCampaignGraph projects artifacts and relationships for one campaign
// into Neo4j. MERGE on node/edge id keeps concurrent retries idempotent; the
// relational store stays authoritative for existence.
func UpsertCampaignGraph(
	ctx context.Context,
	client *neo4jdb.Client,
	log *logger.Logger,
	campaignID uuid.UUID,
	artifacts []*types.Artifact,
	relationships []*types.Relationship,
) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if campaignID == uuid.Nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	artifactNodes := make([]map[string]any, 0, len(artifacts))
	for _, a := range artifacts {
		if a == nil || a.ID == uuid.Nil || a.CampaignID != campaignID {
			continue
		}
		artifactNodes = append(artifactNodes, map[string]any{
			"id":                a.ID.String(),
			"campaign_id":       a.CampaignID.String(),
			"name":              a.Name,
			"category":          string(a.Category),
			"description":       truncateString(a.Description, 900),
			"short_description": truncateString(a.ShortDescription, 300),
			"updated_at":        a.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"synced_at":         now,
		})
	}

	edges := make([]map[string]any, 0, len(relationships))
	for _, r := range relationships {
		if r == nil || r.ID == uuid.Nil || r.CampaignID != campaignID {
			continue
		}
		if r.SourceArtifactID == uuid.Nil || r.TargetArtifactID == uuid.Nil {
			continue
		}
		edges = append(edges, map[string]any{
			"id":          r.ID.String(),
			"source_id":   r.SourceArtifactID.String(),
			"target_id":   r.TargetArtifactID.String(),
			"label":       r.Label,
			"description": truncateString(r.Description, 900),
			"synced_at":   now,
		})
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	// Best-effort schema init.
	{
		stmts := []string{
			`CREATE CONSTRAINT campaign_id_unique IF NOT EXISTS FOR (c:Campaign) REQUIRE c.id IS UNIQUE`,
			`CREATE CONSTRAINT artifact_id_unique IF NOT EXISTS FOR (a:Artifact) REQUIRE a.id IS UNIQUE`,
		}
		for _, q := range stmts {
			if res, err := session.Run(ctx, q, nil); err != nil {
				if log != nil {
					log.Warn("neo4j schema init failed (continuing)", "error", err)
				}
			} else {
				_, _ = res.Consume(ctx)
			}
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if res, err := tx.Run(ctx, `
MERGE (c:Campaign {id: $id})
SET c.synced_at = $synced_at
`, map[string]any{"id": campaignID.String(), "synced_at": now}); err != nil {
			return nil, err
		} else if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(artifactNodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $artifacts AS a
MERGE (n:Artifact {id: a.id})
SET n += a
WITH n, a
MERGE (c:Campaign {id: a.campaign_id})
MERGE (n)-[:IN_CAMPAIGN]->(c)
`, map[string]any{"artifacts": artifactNodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(edges) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $edges AS e
MATCH (src:Artifact {id: e.source_id})
MATCH (dst:Artifact {id: e.target_id})
MERGE (src)-[r:RELATES_TO {id: e.id}]->(dst)
SET r.label = e.label,
    r.description = e.description,
    r.synced_at = e.synced_at
`, map[string]any{"edges": edges})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		return nil, nil
	})
	return err
}

// FetchCampaignGraph reads the projected graph for browsing.
func FetchCampaignGraph(ctx context.Context, client *neo4jdb.Client, campaignID uuid.UUID) ([]Node, []Edge, error) {
	if client == nil || client.Driver == nil || campaignID == uuid.Nil {
		return nil, nil, nil
	}
	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		nodes := []Node{}
		res, err := tx.Run(ctx, `
MATCH (n:Artifact)-[:IN_CAMPAIGN]->(:Campaign {id: $campaign_id})
RETURN n.id AS id, n.name AS name, n.category AS category, n.short_description AS short_description
`, map[string]any{"campaign_id": campaignID.String()})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			nodes = append(nodes, Node{
				ID:               stringValue(rec, "id"),
				Name:             stringValue(rec, "name"),
				Category:         stringValue(rec, "category"),
				ShortDescription: stringValue(rec, "short_description"),
			})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		edges := []Edge{}
		res, err = tx.Run(ctx, `
MATCH (src:Artifact)-[r:RELATES_TO]->(dst:Artifact)
WHERE (src)-[:IN_CAMPAIGN]->(:Campaign {id: $campaign_id})
RETURN r.id AS id, src.id AS source_id, dst.id AS target_id, r.label AS label, r.description AS description
`, map[string]any{"campaign_id": campaignID.String()})
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			edges = append(edges, Edge{
				ID:          stringValue(rec, "id"),
				SourceID:    stringValue(rec, "source_id"),
				TargetID:    stringValue(rec, "target_id"),
				Label:       stringValue(rec, "label"),
				Description: stringValue(rec, "description"),
			})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		return []any{nodes, edges}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	pair := result.([]any)
	return pair[0].([]Node), pair[1].([]Edge), nil
}

func stringValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
