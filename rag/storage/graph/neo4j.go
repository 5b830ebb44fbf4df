package graph

import (
	"context"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
)

// Neo4jMirror copies merged subgraphs into Neo4j. The local GraphML stays
// the source of truth.
type Neo4jMirror struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ Mirror = (*Neo4jMirror)(nil)

func NewNeo4jMirror(ctx context.Context, uri, user, password, database string) (*Neo4jMirror, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "neo4j connect")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "neo4j verify")
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jMirror{driver: driver, database: database}, nil
}

const (
	mergeEntityCypher = `MERGE (n:Entity {name: $name})
ON CREATE SET n.entity_type = $type, n.description = $description, n.source_id = $source_id, n.created_at = $created_at
ON MATCH SET n.description = CASE WHEN n.description CONTAINS $description THEN n.description ELSE n.description + $sep + $description END,
	n.source_id = CASE WHEN n.source_id CONTAINS $source_id THEN n.source_id ELSE n.source_id + $sep + $source_id END`

	mergeRelationCypher = `MERGE (s:Entity {name: $src})
MERGE (t:Entity {name: $tgt})
MERGE (s)-[r:REL {label: $label}]-(t)
ON CREATE SET r.description = $description, r.weight = $weight, r.source_id = $source_id
ON MATCH SET r.source_id = CASE WHEN r.source_id CONTAINS $source_id THEN r.source_id ELSE r.source_id + $sep + $source_id END`

	stripMarkerCypher = `MATCH (n:Entity) WHERE n.source_id CONTAINS $marker
WITH n, [p IN split(n.source_id, $sep) WHERE NOT p STARTS WITH $marker] AS kept
SET n.source_id = reduce(acc = '', p IN kept | CASE acc WHEN '' THEN p ELSE acc + $sep + p END)
WITH n WHERE n.source_id = ''
DETACH DELETE n`

	stripEdgeMarkerCypher = `MATCH ()-[r:REL]-() WHERE r.source_id CONTAINS $marker
WITH DISTINCT r, [p IN split(r.source_id, $sep) WHERE NOT p STARTS WITH $marker] AS kept
SET r.source_id = reduce(acc = '', p IN kept | CASE acc WHEN '' THEN p ELSE acc + $sep + p END)
WITH r WHERE r.source_id = ''
DELETE r`
)

func (m *Neo4jMirror) Sync(ctx context.Context, sub *rag.Subgraph) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range sub.Entities {
			_, err := tx.Run(ctx, mergeEntityCypher, map[string]any{
				"name":        e.Name,
				"type":        e.Type,
				"description": e.Description,
				"source_id":   e.SourceId,
				"created_at":  e.CreatedAt,
				"sep":         rag.SourceSeparator,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "merge entity %s", e.Name)
			}
		}
		for _, r := range sub.Relations {
			_, err := tx.Run(ctx, mergeRelationCypher, map[string]any{
				"src":         r.Source,
				"tgt":         r.Target,
				"label":       r.Label,
				"description": r.Description,
				"weight":      r.Weight,
				"source_id":   r.SourceId,
				"sep":         rag.SourceSeparator,
			})
			if err != nil {
				return nil, errors.Wrapf(err, "merge relation %s-%s", r.Source, r.Target)
			}
		}
		return nil, nil
	})
	return err
}

func (m *Neo4jMirror) DeleteMarker(ctx context.Context, marker string) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"marker": marker, "sep": rag.SourceSeparator}
		if _, err := tx.Run(ctx, stripEdgeMarkerCypher, params); err != nil {
			return nil, errors.Wrap(err, "strip relation marker")
		}
		if _, err := tx.Run(ctx, stripMarkerCypher, params); err != nil {
			return nil, errors.Wrap(err, "strip entity marker")
		}
		return nil, nil
	})
	return err
}

func (m *Neo4jMirror) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}
