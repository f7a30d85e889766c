package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/tavernfall/loreweave-backend/internal/data/graph"
	"github.com/tavernfall/loreweave-backend/internal/platform/logger"
	"github.com/tavernfall/loreweave-backend/internal/platform/neo4jdb"
	"github.com/tavernfall/loreweave-backend/internal/repos"
)

type CampaignGraph struct {
	Nodes []graph.Node `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

type GraphService interface {
	GetCampaignGraph(ctx context.Context, campaignID uuid.UUID) (*CampaignGraph, error)
}

type graphService struct {
	campaigns     repos.CampaignRepo
	artifacts     repos.ArtifactRepo
	relationships repos.RelationshipRepo
	client        *neo4jdb.Client
	log           *logger.Logger
}

func NewGraphService(
	campaigns repos.CampaignRepo,
	artifacts repos.ArtifactRepo,
	relationships repos.RelationshipRepo,
	client *neo4jdb.Client,
	baseLog *logger.Logger,
) GraphService {
	return &graphService{
		campaigns:     campaigns,
		artifacts:     artifacts,
		relationships: relationships,
		client:        client,
		log:           baseLog.With("service", "GraphService"),
	}
}

// GetCampaignGraph reads the Neo4j projection when a client is configured
// and falls back to building the same shape from the relational store when
// it is not, or when the read fails. Browsing should survive a projection
// outage; the relational store has everything the view needs.
func (s *graphService) GetCampaignGraph(ctx context.Context, campaignID uuid.UUID) (*CampaignGraph, error) {
	if _, err := s.campaigns.GetByID(ctx, nil, campaignID); err != nil {
		return nil, err
	}

	if s.client != nil {
		nodes, edges, err := graph.FetchCampaignGraph(ctx, s.client, campaignID)
		if err == nil {
			return &CampaignGraph{Nodes: emptyIfNilNodes(nodes), Edges: emptyIfNilEdges(edges)}, nil
		}
		s.log.Warn("graph read failed, falling back to relational store",
			"campaign_id", campaignID, "error", err)
	}

	artifacts, err := s.artifacts.ListByCampaign(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}
	relationships, err := s.relationships.ListByCampaign(ctx, nil, campaignID)
	if err != nil {
		return nil, err
	}

	nodes := make([]graph.Node, 0, len(artifacts))
	for _, a := range artifacts {
		nodes = append(nodes, graph.Node{
			ID:               a.ID.String(),
			Name:             a.Name,
			Category:         string(a.Category),
			ShortDescription: a.ShortDescription,
		})
	}
	edges := make([]graph.Edge, 0, len(relationships))
	for _, r := range relationships {
		edges = append(edges, graph.Edge{
			ID:          r.ID.String(),
			SourceID:    r.SourceArtifactID.String(),
			TargetID:    r.TargetArtifactID.String(),
			Label:       r.Label,
			Description: r.Description,
		})
	}
	return &CampaignGraph{Nodes: nodes, Edges: edges}, nil
}

func emptyIfNilNodes(nodes []graph.Node) []graph.Node {
	if nodes == nil {
		return []graph.Node{}
	}
	return nodes
}

func emptyIfNilEdges(edges []graph.Edge) []graph.Edge {
	if edges == nil {
		return []graph.Edge{}
	}
	return edges
}
