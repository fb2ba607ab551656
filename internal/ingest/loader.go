package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/aurelia-health/emrgraph/internal/emr"
	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/types"
)

// schemaStatements are run once per sync pass. Constraints and indexes are
// IF NOT EXISTS so repeated runs are cheap no-ops.
var schemaStatements = []string{
	`CREATE CONSTRAINT patient_id IF NOT EXISTS
	 FOR (p:Patient) REQUIRE p.patientID IS UNIQUE`,
	`CREATE INDEX section_patient IF NOT EXISTS
	 FOR (sec:SectionTable) ON (sec.name, sec.patientID)`,
	`CREATE INDEX schema_key IF NOT EXISTS
	 FOR (s:Schema) ON (s.section, s.field, s.patientID)`,
	`CREATE INDEX value_key IF NOT EXISTS
	 FOR (v:Value) ON (v.value, v.valueType, v.patientID)`,
	`CREATE CONSTRAINT schema_uuid IF NOT EXISTS
	 FOR (s:Schema) REQUIRE s.node_id IS UNIQUE`,
	`CREATE CONSTRAINT value_uuid IF NOT EXISTS
	 FOR (v:Value) REQUIRE v.node_id IS UNIQUE`,
}

// backfillStatements assign stable identifiers to nodes created before
// node_id existed. Run each statement separately.
var backfillStatements = []string{
	`MATCH (s:Schema) WHERE s.node_id IS NULL SET s.node_id = randomUUID()`,
	`MATCH (v:Value)  WHERE v.node_id IS NULL SET v.node_id = randomUUID()`,
}

// mergeFieldCypher merges one Patient → SectionTable → Schema → Value chain.
// The section relationship type comes from the closed registry, never from
// document input, so the fmt.Sprintf below cannot inject arbitrary types.
//
// node_id is assigned exactly once: coalesce keeps an existing identifier and
// falls back to the freshly generated one only when the node has none.
const mergeFieldCypher = `
MERGE (p:Patient {patientID: $pid})
MERGE (sec:SectionTable {name: $section, patientID: $pid})
MERGE (p)-[:%s]->(sec)
MERGE (s:Schema {section: $section, field: $field, patientID: $pid})
SET s.node_id = coalesce(s.node_id, $schema_id)
MERGE (sec)-[:HAS_INFORMATION_OF]->(s)
MERGE (v:Value {value: $value, valueType: $value_type, patientID: $pid})
  ON CREATE SET v.TimeInput = datetime()
SET v.node_id = coalesce(v.node_id, $value_id),
    v.unit = $unit,
    v += $props
MERGE (s)-[:HAS_VALUE]->(v)
`

const mergePatientCypher = `
MERGE (p:Patient {patientID: $pid})
RETURN DISTINCT p.patientID AS patientID
`

// LoadResult contains statistics about a load operation.
type LoadResult struct {
	NodesCreated         int
	RelationshipsCreated int
	PropertiesSet        int
	FieldsMerged         int
}

// GraphLoader merges parsed documents into the graph store idempotently.
// Repeated loads of identical content create zero additional nodes.
type GraphLoader struct {
	client graph.Client
}

// NewGraphLoader creates a new GraphLoader with the given graph client.
func NewGraphLoader(client graph.Client) *GraphLoader {
	return &GraphLoader{client: client}
}

// EnsureSchema creates constraints and indexes and backfills missing node
// identifiers. Individual statement failures are returned; callers run this
// before the first load of a pass.
func (l *GraphLoader) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := l.client.Write(ctx, stmt, nil); err != nil {
			return types.WrapError(types.GRAPH_WRITE_FAILED, "schema statement failed", err)
		}
	}
	for _, stmt := range backfillStatements {
		if _, err := l.client.Write(ctx, stmt, nil); err != nil {
			return types.WrapError(types.GRAPH_WRITE_FAILED, "node_id backfill failed", err)
		}
	}
	return nil
}

// Load merges one document into the graph store. The merge key hierarchy is
// patientID → (section, patientID) → (section, field, patientID) →
// (value, valueType, patientID); re-loading unchanged content is a no-op.
//
// Fails with GRAPH_WRITE_FAILED on the first store error; the caller must not
// record the document fingerprint in that case.
func (l *GraphLoader) Load(ctx context.Context, doc emr.Document) (*LoadResult, error) {
	if doc.PatientID == "" {
		return nil, types.NewError(types.DOCUMENT_INVALID, "document has no patient identifier")
	}

	result := &LoadResult{}

	res, err := l.client.Write(ctx, mergePatientCypher, map[string]any{"pid": doc.PatientID})
	if err != nil {
		return nil, types.WrapError(types.GRAPH_WRITE_FAILED,
			fmt.Sprintf("failed to merge patient %q", doc.PatientID), err)
	}
	result.absorb(res.Summary)

	for _, sec := range doc.Sections {
		cypher := fmt.Sprintf(mergeFieldCypher, sec.Relationship)
		for _, field := range sec.Fields {
			params := map[string]any{
				"pid":        doc.PatientID,
				"section":    sec.Name,
				"field":      field.Name,
				"value":      toStoreValue(field.Value),
				"value_type": string(field.Type),
				"unit":       nullable(field.Unit),
				"schema_id":  uuid.NewString(),
				"value_id":   uuid.NewString(),
				"props":      toStoreProps(field.Props),
			}

			res, err := l.client.Write(ctx, cypher, params)
			if err != nil {
				return result, types.WrapError(types.GRAPH_WRITE_FAILED,
					fmt.Sprintf("failed to merge %s.%s for patient %q",
						sec.Name, field.Name, doc.PatientID), err)
			}
			result.absorb(res.Summary)
			result.FieldsMerged++
		}
	}

	return result, nil
}

func (r *LoadResult) absorb(s graph.QuerySummary) {
	r.NodesCreated += s.NodesCreated
	r.RelationshipsCreated += s.RelationshipsCreated
	r.PropertiesSet += s.PropertiesSet
}

// toStoreValue converts parsed field values to driver parameter types.
// Dates are stored as Neo4j Date values.
func toStoreValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return dbtype.Date(t)
	}
	return v
}

// toStoreProps converts dict-entry attributes, returning an empty map for
// nil so `v += $props` is always valid.
func toStoreProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = toStoreValue(v)
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
