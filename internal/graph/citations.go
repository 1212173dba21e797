package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// LinkCitation merges a CITES edge from a literature to either a literature
// (by LID) or an unresolved placeholder (by UID). Self-loops are rejected.
// The merge is idempotent; confidence and source are refreshed on re-link.
func (d *DAO) LinkCitation(ctx context.Context, srcLID, dst string, confidence float64, source domain.CitationSource) error {
	if srcLID == dst {
		return domain.NewValidationError("citation", "self-citation rejected")
	}

	const query = `
MATCH (src:Literature {lid: $src})
MATCH (dst)
WHERE (dst:Literature AND dst.lid = $dst) OR (dst:Unresolved AND dst.uid = $dst)
MERGE (src)-[r:CITES]->(dst)
SET r.confidence = $confidence, r.source = $source
RETURN count(r) AS links`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"src":        srcLID,
			"dst":        dst,
			"confidence": confidence,
			"source":     string(source),
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return int64(0), nil
		}
		links, _ := record.Get("links")
		return links, nil
	})
	if err != nil {
		return fmt.Errorf("linking %s -> %s: %w", srcLID, dst, err)
	}
	if links, _ := result.(int64); links == 0 {
		return domain.NewNotFoundError("citation endpoint", dst)
	}
	return nil
}

// CreateUnresolved creates a placeholder node for a cited-but-unknown work
// and returns its UID. The title fingerprint is stored when the parsed
// fields allow one, so later submissions can reclaim the placeholder.
func (d *DAO) CreateUnresolved(ctx context.Context, u *domain.Unresolved) (string, error) {
	uid := u.ID
	if uid == "" {
		uid = "u-" + uuid.NewString()
	}

	var parsedJSON []byte
	fingerprint := ""
	if u.Parsed != nil {
		var err error
		if parsedJSON, err = json.Marshal(u.Parsed); err != nil {
			return "", fmt.Errorf("encoding parsed reference: %w", err)
		}
		if u.Parsed.Title != "" {
			fingerprint = domain.TitleFingerprint(u.Parsed.Title, u.Parsed.Authors, u.Parsed.Year)
		}
	}

	const query = `
CREATE (u:Unresolved {
  uid: $uid,
  raw_text: $raw,
  parsed_json: $parsed,
  fingerprint: $fp,
  doi: $doi,
  norm_title: $norm_title,
  year: $year,
  created_at: $now
})
RETURN u.uid AS uid`

	params := map[string]any{
		"uid":        uid,
		"raw":        u.RawText,
		"parsed":     string(parsedJSON),
		"fp":         fingerprint,
		"doi":        parsedDOI(u.Parsed),
		"norm_title": parsedNormTitle(u.Parsed),
		"year":       parsedYear(u.Parsed),
		"now":        time.Now().UTC().Format(time.RFC3339Nano),
	}

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return "", fmt.Errorf("creating unresolved node: %w", err)
	}
	return uid, nil
}

// PromoteUnresolved promotes a placeholder into the given literature,
// preserving every incident CITES relationship. When the literature node
// already exists, incoming edges are re-pointed onto it and the placeholder
// is removed; otherwise the placeholder is relabeled in place.
func (d *DAO) PromoteUnresolved(ctx context.Context, uid, lid string) error {
	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			`OPTIONAL MATCH (l:Literature {lid: $lid}) RETURN l IS NOT NULL AS exists`,
			map[string]any{"lid": lid})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		existsVal, _ := record.Get("exists")
		exists, _ := existsVal.(bool)

		if exists {
			if _, err := tx.Run(ctx, `
MATCH (src)-[r:CITES]->(u:Unresolved {uid: $uid})
MATCH (l:Literature {lid: $lid})
MERGE (src)-[nr:CITES]->(l)
SET nr.confidence = r.confidence, nr.source = r.source`,
				map[string]any{"uid": uid, "lid": lid}); err != nil {
				return nil, err
			}
			_, err = tx.Run(ctx,
				`MATCH (u:Unresolved {uid: $uid}) DETACH DELETE u`,
				map[string]any{"uid": uid})
			return nil, err
		}

		_, err = tx.Run(ctx, `
MATCH (u:Unresolved {uid: $uid})
SET u:Literature, u.lid = $lid
REMOVE u:Unresolved`,
			map[string]any{"uid": uid, "lid": lid})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("promoting unresolved %s to %s: %w", uid, lid, err)
	}
	d.logger.Info().Str("uid", uid).Str("lid", lid).Msg("unresolved promoted")
	return nil
}

// FindUnresolvedByFingerprint returns the UIDs of placeholders whose title
// fingerprint or DOI matches, for the promotion sweep after a new literature
// is created.
func (d *DAO) FindUnresolvedByFingerprint(ctx context.Context, fingerprint, doi string) ([]string, error) {
	const query = `
MATCH (u:Unresolved)
WHERE ($fp <> '' AND u.fingerprint = $fp) OR ($doi <> '' AND u.doi = $doi)
RETURN u.uid AS uid`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"fp": fingerprint, "doi": doi})
		if err != nil {
			return nil, err
		}
		var uids []string
		for res.Next(ctx) {
			if uid, ok := res.Record().Get("uid"); ok {
				if s, ok := uid.(string); ok {
					uids = append(uids, s)
				}
			}
		}
		return uids, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("finding unresolved by fingerprint: %w", err)
	}
	uids, _ := result.([]string)
	return uids, nil
}

// IncomingResolvedCitations counts CITES edges into a literature that come
// from other literature nodes (not placeholders). Failed-document cleanup
// keeps nodes that resolved literature still cites.
func (d *DAO) IncomingResolvedCitations(ctx context.Context, lid string) (int, error) {
	const query = `
MATCH (src:Literature)-[:CITES]->(l:Literature {lid: $lid})
RETURN count(src) AS n`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"lid": lid})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return int64(0), nil
		}
		n, _ := record.Get("n")
		return n, nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting incoming citations for %s: %w", lid, err)
	}
	n, _ := result.(int64)
	return int(n), nil
}

// Candidate is a fuzzy-match candidate returned by the title probe.
type Candidate struct {
	LID     string
	Title   string
	Authors []domain.Author
	Year    int
}

// FindCandidatesByTitle probes for literature whose normalized title contains
// the query's probe (its longest word, or the whole title when that word is
// shorter than four characters; see titleProbe) and whose year falls within
// the tolerance. The linker scores the candidates afterwards.
func (d *DAO) FindCandidatesByTitle(ctx context.Context, normTitle string, year, tolerance, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = 10
	}

	const query = `
MATCH (l:Literature)
WHERE l.norm_title CONTAINS $probe
  AND ($year = 0 OR l.year = 0 OR abs(l.year - $year) <= $tolerance)
RETURN l.lid AS lid, l.title AS title, l.year AS year, l.metadata_json AS metadata
LIMIT $limit`

	probe := titleProbe(normTitle)
	if probe == "" {
		return nil, nil
	}

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"probe":     probe,
			"year":      year,
			"tolerance": tolerance,
			"limit":     limit,
		})
		if err != nil {
			return nil, err
		}

		var candidates []Candidate
		for res.Next(ctx) {
			record := res.Record()
			c := Candidate{}
			if v, ok := record.Get("lid"); ok {
				c.LID, _ = v.(string)
			}
			if v, ok := record.Get("title"); ok {
				c.Title, _ = v.(string)
			}
			if v, ok := record.Get("year"); ok {
				if y, ok := v.(int64); ok {
					c.Year = int(y)
				}
			}
			if v, ok := record.Get("metadata"); ok {
				if blob, ok := v.(string); ok && blob != "" {
					var meta domain.Metadata
					if json.Unmarshal([]byte(blob), &meta) == nil {
						c.Authors = meta.Authors
					}
				}
			}
			candidates = append(candidates, c)
		}
		return candidates, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("probing candidates by title: %w", err)
	}
	candidates, _ := result.([]Candidate)
	return candidates, nil
}

// titleProbe picks the longest word of a normalized title as the CONTAINS
// probe; short words hit too much of the index.
func titleProbe(normTitle string) string {
	best := ""
	word := ""
	for _, r := range normTitle + " " {
		if r == ' ' {
			if len(word) > len(best) {
				best = word
			}
			word = ""
			continue
		}
		word += string(r)
	}
	if len(best) < 4 {
		return normTitle
	}
	return best
}

func parsedDOI(p *domain.ParsedReference) string {
	if p == nil {
		return ""
	}
	return p.DOI
}

func parsedNormTitle(p *domain.ParsedReference) string {
	if p == nil {
		return ""
	}
	return domain.NormalizeTitle(p.Title)
}

func parsedYear(p *domain.ParsedReference) int {
	if p == nil {
		return 0
	}
	return p.Year
}
