package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// Graph read limits.
const (
	// MaxDepth caps neighborhood traversal depth.
	MaxDepth = 3

	// MaxSeeds caps the seed set of a graph read.
	MaxSeeds = 20
)

// GetLiterature loads a literature record by LID.
func (d *DAO) GetLiterature(ctx context.Context, lid string) (*domain.Literature, error) {
	lits, err := d.BatchGet(ctx, []string{lid})
	if err != nil {
		return nil, err
	}
	if len(lits) == 0 {
		return nil, domain.NewNotFoundError("literature", lid)
	}
	return lits[0], nil
}

// BatchGet loads literature records by LID, preserving input order and
// silently skipping unknown LIDs.
func (d *DAO) BatchGet(ctx context.Context, lids []string) ([]*domain.Literature, error) {
	if len(lids) == 0 {
		return nil, nil
	}

	const query = `
MATCH (l:Literature)
WHERE l.lid IN $lids
RETURN l`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"lids": lids})
		if err != nil {
			return nil, err
		}

		byLID := make(map[string]*domain.Literature)
		for res.Next(ctx) {
			nodeVal, ok := res.Record().Get("l")
			if !ok {
				continue
			}
			node, ok := nodeVal.(dbtype.Node)
			if !ok {
				continue
			}
			lit := nodeToLiterature(node)
			if lit != nil {
				byLID[lit.LID] = lit
			}
		}
		return byLID, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("batch get: %w", err)
	}

	byLID := result.(map[string]*domain.Literature)
	out := make([]*domain.Literature, 0, len(byLID))
	for _, lid := range lids {
		if lit, ok := byLID[lid]; ok {
			out = append(out, lit)
		}
	}
	return out, nil
}

// Neighborhood performs a depth-bounded BFS from the seed set over CITES
// edges in both directions. The returned edge list is exactly the induced
// subgraph among the returned nodes.
func (d *DAO) Neighborhood(ctx context.Context, seeds []string, depth int) (*domain.Graph, error) {
	if len(seeds) == 0 {
		return nil, domain.NewValidationError("lids", "at least one seed required")
	}
	if len(seeds) > MaxSeeds {
		return nil, domain.NewValidationError("lids", fmt.Sprintf("at most %d seeds", MaxSeeds))
	}
	if depth <= 0 {
		depth = 1
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}

	// Variable-length bounds cannot be parameterized; depth is validated
	// above so the format is safe.
	nodesQuery := fmt.Sprintf(`
MATCH (seed:Literature)
WHERE seed.lid IN $lids
MATCH (seed)-[:CITES*0..%d]-(n)
WHERE n:Literature OR n:Unresolved
RETURN DISTINCT n`, depth)

	const edgesQuery = `
MATCH (a)-[r:CITES]->(b)
WHERE (a:Literature OR a:Unresolved) AND (b:Literature OR b:Unresolved)
  AND coalesce(a.lid, a.uid) IN $ids AND coalesce(b.lid, b.uid) IN $ids
RETURN coalesce(a.lid, a.uid) AS src, coalesce(b.lid, b.uid) AS dst,
       r.confidence AS confidence`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, nodesQuery, map[string]any{"lids": seeds})
		if err != nil {
			return nil, err
		}

		graph := &domain.Graph{}
		ids := make([]string, 0, 16)
		for res.Next(ctx) {
			nodeVal, ok := res.Record().Get("n")
			if !ok {
				continue
			}
			node, ok := nodeVal.(dbtype.Node)
			if !ok {
				continue
			}
			gn := nodeToGraphNode(node)
			if gn.ID == "" {
				continue
			}
			graph.Nodes = append(graph.Nodes, gn)
			ids = append(ids, gn.ID)
		}
		if err := res.Err(); err != nil {
			return nil, err
		}

		edgeRes, err := tx.Run(ctx, edgesQuery, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		for edgeRes.Next(ctx) {
			record := edgeRes.Record()
			edge := domain.GraphEdge{Type: "CITES", Weight: 1}
			if v, ok := record.Get("src"); ok {
				edge.Source, _ = v.(string)
			}
			if v, ok := record.Get("dst"); ok {
				edge.Target, _ = v.(string)
			}
			if v, ok := record.Get("confidence"); ok {
				if c, ok := v.(float64); ok {
					edge.Weight = c
				}
			}
			graph.Edges = append(graph.Edges, edge)
		}
		return graph, edgeRes.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neighborhood read: %w", err)
	}

	graph := result.(*domain.Graph)
	graph.Metadata = map[string]any{
		"seed_count": len(seeds),
		"depth":      depth,
		"node_count": len(graph.Nodes),
		"edge_count": len(graph.Edges),
	}
	return graph, nil
}

// nodeToLiterature decodes a Literature node's properties.
func nodeToLiterature(node dbtype.Node) *domain.Literature {
	props := node.Props
	lid, _ := props["lid"].(string)
	if lid == "" {
		return nil
	}

	lit := &domain.Literature{LID: lid}
	lit.Identifiers.DOI, _ = props["doi"].(string)
	lit.Identifiers.ArXivID, _ = props["arxiv_id"].(string)
	lit.Identifiers.PMID, _ = props["pmid"].(string)
	lit.Identifiers.Fingerprint, _ = props["fingerprint"].(string)
	if urls, ok := props["source_urls"].([]any); ok {
		for _, u := range urls {
			if s, ok := u.(string); ok {
				lit.Identifiers.SourceURLs = append(lit.Identifiers.SourceURLs, s)
			}
		}
	}

	if blob, ok := props["metadata_json"].(string); ok && blob != "" {
		_ = json.Unmarshal([]byte(blob), &lit.Metadata)
	}
	if blob, ok := props["content_json"].(string); ok && blob != "" {
		_ = json.Unmarshal([]byte(blob), &lit.Content)
	}
	if blob, ok := props["task_json"].(string); ok && blob != "" && blob != "null" {
		var info domain.TaskInfo
		if json.Unmarshal([]byte(blob), &info) == nil {
			lit.TaskInfo = &info
		}
	}

	lit.CreatedAt = parseNodeTime(props["created_at"])
	lit.UpdatedAt = parseNodeTime(props["updated_at"])
	return lit
}

// nodeToGraphNode decodes either node label into the graph-read shape.
func nodeToGraphNode(node dbtype.Node) domain.GraphNode {
	props := node.Props
	gn := domain.GraphNode{}

	if lid, ok := props["lid"].(string); ok && lid != "" {
		gn.ID = lid
		gn.Type = domain.NodeLiterature
	} else if uid, ok := props["uid"].(string); ok && uid != "" {
		gn.ID = uid
		gn.Type = domain.NodeUnresolved
	}

	gn.Title, _ = props["title"].(string)
	if gn.Title == "" {
		if raw, ok := props["raw_text"].(string); ok {
			gn.Title = raw
		}
	}
	if y, ok := props["year"].(int64); ok {
		gn.Year = int(y)
	}
	if blob, ok := props["metadata_json"].(string); ok && blob != "" {
		var meta domain.Metadata
		if json.Unmarshal([]byte(blob), &meta) == nil {
			for _, a := range meta.Authors {
				gn.Authors = append(gn.Authors, a.Name)
			}
		}
	}
	return gn
}

// parseNodeTime parses RFC3339 timestamps stored as strings.
func parseNodeTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}
