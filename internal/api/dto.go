package api

import (
	"time"

	"regimen-risk/backend/internal/catalog"
	"regimen-risk/backend/internal/scoring"
	"regimen-risk/backend/internal/store"
)

// RiskRequest asks for the risk of a regimen. Age may be a number or a
// numeric string; anything else is ignored.
type RiskRequest struct {
	DrugIDs []string `json:"drug_ids" binding:"required"`
	Age     any      `json:"age"`
	Sex     *string  `json:"sex"`
}

// Profile converts the optional patient fields.
func (r RiskRequest) Profile() scoring.Profile {
	profile := scoring.Profile{Age: scoring.ParseAge(r.Age)}
	if r.Sex != nil {
		profile.Sex = *r.Sex
	}
	return profile
}

// RiskResponse wraps an assessment.
type RiskResponse struct {
	Risk scoring.Assessment `json:"risk"`
}

// RecommendRequest asks for safer substitutes of target within a regimen.
type RecommendRequest struct {
	DrugIDs    []string `json:"drug_ids" binding:"required"`
	TargetDrug string   `json:"target_drug" binding:"required"`
	TopK       int      `json:"top_k"`
}

// RecommendResponse lists ranked alternatives, lowest risk first.
type RecommendResponse struct {
	Recommendations []scoring.Recommendation `json:"recommendations"`
}

// GraphNode is a drug in the interaction graph.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// GraphEdge is one recorded interaction.
type GraphEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Severity string `json:"severity,omitempty"`
}

// GraphResponse is the knowledge base as a node/edge list.
type GraphResponse struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// DrugsResponse lists catalogued drugs.
type DrugsResponse struct {
	Items []catalog.Drug `json:"items"`
	Total int            `json:"total"`
}

// StreamEvent describes websocket payloads emitted during a recommendation
// search.
type StreamEvent struct {
	Type            string                   `json:"type"`
	RequestID       string                   `json:"request_id"`
	Processed       int                      `json:"processed,omitempty"`
	Total           int                      `json:"total,omitempty"`
	Candidate       *scoring.Recommendation  `json:"candidate,omitempty"`
	Recommendations []scoring.Recommendation `json:"recommendations,omitempty"`
	Message         string                   `json:"message,omitempty"`
	Timestamp       time.Time                `json:"timestamp"`
}

func edgesFromModel(rows []store.Interaction) []GraphEdge {
	edges := make([]GraphEdge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, GraphEdge{
			Source:   row.Drug1ID,
			Target:   row.Drug2ID,
			Severity: row.Severity,
		})
	}
	return edges
}

func nodesFromCatalog(drugs []catalog.Drug) []GraphNode {
	nodes := make([]GraphNode, 0, len(drugs))
	for _, drug := range drugs {
		nodes = append(nodes, GraphNode{ID: drug.ID, Label: drug.Name})
	}
	return nodes
}
