// Package graph is the alias-indexed graph store access layer. Literature,
// Alias, and Unresolved nodes live in Neo4j together with IDENTIFIES and
// CITES relationships; every operation here is a parameterized Cypher
// statement executed through the official driver.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// Config holds graph store connection settings.
type Config struct {
	// URI is the bolt/neo4j connection URI.
	URI string
	// Username and Password authenticate the driver.
	Username string
	Password string
	// Database is the Neo4j database name.
	Database string
	// MaxConnectionPoolSize caps the driver connection pool.
	MaxConnectionPoolSize int
}

// DAO executes graph operations. It is safe for concurrent use.
type DAO struct {
	driver   neo4j.DriverWithContext
	database string
	logger   zerolog.Logger
}

// NewDAO connects to the graph store and verifies connectivity.
func NewDAO(ctx context.Context, cfg Config, logger zerolog.Logger) (*DAO, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxConnectionPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			}
		})
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}
	return &DAO{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.With().Str("component", "graph").Logger(),
	}, nil
}

// Close releases the underlying driver.
func (d *DAO) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// session opens a session against the configured database.
func (d *DAO) session(ctx context.Context) neo4j.SessionWithContext {
	return d.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database})
}

// EnsureConstraints creates the uniqueness constraints and indexes the store
// depends on. Alias uniqueness on (alias_type, alias_value) is the anchor
// for atomic create semantics; literature identifier fields carry no
// uniqueness of their own.
func (d *DAO) EnsureConstraints(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT literature_lid IF NOT EXISTS FOR (l:Literature) REQUIRE l.lid IS UNIQUE",
		"CREATE CONSTRAINT alias_key IF NOT EXISTS FOR (a:Alias) REQUIRE (a.alias_type, a.alias_value) IS UNIQUE",
		"CREATE CONSTRAINT unresolved_uid IF NOT EXISTS FOR (u:Unresolved) REQUIRE u.uid IS UNIQUE",
		"CREATE INDEX literature_doi IF NOT EXISTS FOR (l:Literature) ON (l.doi)",
		"CREATE INDEX literature_task IF NOT EXISTS FOR (l:Literature) ON (l.task_id)",
		"CREATE TEXT INDEX literature_title IF NOT EXISTS FOR (l:Literature) ON (l.norm_title)",
		"CREATE INDEX unresolved_fp IF NOT EXISTS FOR (u:Unresolved) ON (u.fingerprint)",
	}

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensuring constraint: %w", err)
		}
	}
	return nil
}

// UpsertLiterature creates or updates a literature node keyed by its
// deterministic LID. The LID is derived from metadata when not already set.
// Returns the LID and whether the node was created. Re-running with
// identical input returns the same LID and created=false.
func (d *DAO) UpsertLiterature(ctx context.Context, lit *domain.Literature) (string, bool, error) {
	lid := lit.LID
	if lid == "" {
		lid = domain.GenerateLID(lit.Metadata)
	}

	metadataJSON, err := json.Marshal(lit.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("encoding metadata: %w", err)
	}
	contentJSON, err := json.Marshal(lit.Content)
	if err != nil {
		return "", false, fmt.Errorf("encoding content: %w", err)
	}
	var taskJSON []byte
	if lit.TaskInfo != nil {
		if taskJSON, err = json.Marshal(lit.TaskInfo); err != nil {
			return "", false, fmt.Errorf("encoding task info: %w", err)
		}
	}

	params := map[string]any{
		"lid":         lid,
		"doi":         lit.Identifiers.DOI,
		"arxiv_id":    lit.Identifiers.ArXivID,
		"pmid":        lit.Identifiers.PMID,
		"fingerprint": lit.Identifiers.Fingerprint,
		"source_urls": lit.Identifiers.SourceURLs,
		"title":       lit.Metadata.Title,
		"norm_title":  domain.NormalizeTitle(lit.Metadata.Title),
		"year":        lit.Metadata.Year,
		"metadata":    string(metadataJSON),
		"content":     string(contentJSON),
		"task":        string(taskJSON),
		"task_id":     taskID(lit.TaskInfo),
		"now":         time.Now().UTC().Format(time.RFC3339Nano),
	}

	const query = `
MERGE (l:Literature {lid: $lid})
ON CREATE SET
  l.created_at = $now,
  l._created = true
ON MATCH SET
  l._created = false
SET
  l.updated_at = $now,
  l.title = $title,
  l.norm_title = $norm_title,
  l.year = $year,
  l.metadata_json = $metadata,
  l.content_json = $content,
  l.task_json = $task,
  l.task_id = $task_id,
  l.doi = CASE WHEN $doi = '' THEN l.doi ELSE $doi END,
  l.arxiv_id = CASE WHEN $arxiv_id = '' THEN l.arxiv_id ELSE $arxiv_id END,
  l.pmid = CASE WHEN $pmid = '' THEN l.pmid ELSE $pmid END,
  l.fingerprint = CASE WHEN $fingerprint = '' THEN l.fingerprint ELSE $fingerprint END,
  l.source_urls = [u IN coalesce(l.source_urls, []) | u] + [u IN $source_urls WHERE NOT u IN coalesce(l.source_urls, [])]
WITH l, l._created AS created
REMOVE l._created
RETURN l.lid AS lid, created`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		created, _ := record.Get("created")
		return created == true, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("upserting literature %s: %w", lid, err)
	}

	created := result.(bool)
	d.logger.Debug().Str("lid", lid).Bool("created", created).Msg("literature upserted")
	return lid, created, nil
}

// AddAlias creates the alias node if absent and the IDENTIFIES edge to the
// literature. Re-running is a no-op.
func (d *DAO) AddAlias(ctx context.Context, lid string, aliasType domain.AliasType, value string) error {
	if value == "" {
		return nil
	}

	const query = `
MATCH (l:Literature {lid: $lid})
MERGE (a:Alias {alias_type: $type, alias_value: $value})
ON CREATE SET a.created_at = $now
MERGE (a)-[:IDENTIFIES]->(l)`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, map[string]any{
			"lid":   lid,
			"type":  string(aliasType),
			"value": value,
			"now":   time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	if err != nil {
		return fmt.Errorf("adding alias %s=%s to %s: %w", aliasType, value, lid, err)
	}
	return nil
}

// ResolveAlias looks up the literature identified by an alias. Returns
// domain.ErrNotFound when no alias or edge exists.
func (d *DAO) ResolveAlias(ctx context.Context, aliasType domain.AliasType, value string) (string, error) {
	const query = `
MATCH (a:Alias {alias_type: $type, alias_value: $value})-[:IDENTIFIES]->(l:Literature)
RETURN l.lid AS lid LIMIT 1`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := neo4j.ExecuteRead(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"type": string(aliasType), "value": value})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return "", nil // no row: not found
		}
		lid, _ := record.Get("lid")
		return lid, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolving alias %s=%s: %w", aliasType, value, err)
	}

	lid, _ := result.(string)
	if lid == "" {
		return "", domain.NewNotFoundError("alias", string(aliasType)+":"+value)
	}
	return lid, nil
}

// ClaimFingerprint atomically binds a title fingerprint alias to the given
// LID. When a concurrent writer got there first, the winner's LID is
// returned with claimed=false; conditional-insert semantics on the alias
// index resolve phase-4 races.
func (d *DAO) ClaimFingerprint(ctx context.Context, fingerprint, lid string) (string, bool, error) {
	const query = `
MERGE (a:Alias {alias_type: 'title_fp', alias_value: $fp})
ON CREATE SET a.created_at = $now, a.claimed_by = $lid
RETURN a.claimed_by AS owner`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	result, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"fp":  fingerprint,
			"lid": lid,
			"now": time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		owner, _ := record.Get("owner")
		return owner, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("claiming fingerprint %s: %w", fingerprint, err)
	}

	owner, _ := result.(string)
	if owner == "" {
		owner = lid
	}
	return owner, owner == lid, nil
}

// DeleteLiterature detach-deletes a literature node, cascading its aliases.
// Used only for failed-document cleanup during phase-1 dedup.
func (d *DAO) DeleteLiterature(ctx context.Context, lid string) error {
	const query = `
MATCH (l:Literature {lid: $lid})
OPTIONAL MATCH (a:Alias)-[:IDENTIFIES]->(l)
DETACH DELETE a, l`

	session := d.session(ctx)
	defer func() { _ = session.Close(ctx) }()

	_, err := neo4j.ExecuteWrite(ctx, session, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, map[string]any{"lid": lid})
	})
	if err != nil {
		return fmt.Errorf("deleting literature %s: %w", lid, err)
	}
	d.logger.Info().Str("lid", lid).Msg("literature deleted")
	return nil
}

func taskID(info *domain.TaskInfo) string {
	if info == nil {
		return ""
	}
	return info.TaskID
}
