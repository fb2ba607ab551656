package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/privacy"
	"github.com/aurelia-health/emrgraph/internal/types"
)

// Payload field names of a vector record.
const (
	payloadValueID      = "neo4j_id"
	payloadSchemaID     = "schema_id"
	payloadPatientHash  = "patient_id_hash"
	payloadSection      = "section"
	payloadField        = "field"
	payloadValueType    = "value_type"
	payloadUnit         = "unit"
	payloadCategory     = "category"
	payloadDiseaseType  = "disease_type"
	payloadSinceYear    = "since_year"
	payloadOnMedication = "on_medication"
	payloadModel        = "embedding_model"
	payloadVersion      = "embedding_version"
)

const embeddingVersion = 1

// factRowsCypher pulls indexable facts from the graph store. Only Values
// with a stable identifier are eligible; nodes lacking one are skipped, not
// fabricated.
const factRowsCypher = `
MATCH (p:Patient)
WHERE $pids IS NULL OR p.patientID IN $pids
MATCH (p)-[]->(sec:SectionTable {patientID: p.patientID})
MATCH (sec)-[:HAS_INFORMATION_OF]->(s:Schema {patientID: p.patientID})
MATCH (s)-[:HAS_VALUE]->(v:Value {patientID: p.patientID})
WHERE v.node_id IS NOT NULL AND s.node_id IS NOT NULL
RETURN p.patientID AS patientID, sec.name AS section, s.field AS field,
       v.value AS value, v.valueType AS valueType, v.unit AS unit,
       v.category AS category, v.type AS disease_type,
       v.since_year AS since_year, v.on_medication AS on_medication,
       v.node_id AS v_id, s.node_id AS s_id
`

// Indexer flattens graph facts into retrievable text units, embeds them, and
// upserts them into the vector store under the hashed patient identifier.
type Indexer struct {
	graph      graph.Client
	store      VectorStore
	embedder   Embedder
	hasher     *privacy.PatientHasher
	collection string
	logger     *slog.Logger
}

// NewIndexer creates a vector indexer over the given stores.
func NewIndexer(g graph.Client, store VectorStore, embedder Embedder, hasher *privacy.PatientHasher, collection string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		graph:      g,
		store:      store,
		embedder:   embedder,
		hasher:     hasher,
		collection: collection,
		logger:     logger,
	}
}

// Collection returns the vector collection name this indexer writes to.
func (ix *Indexer) Collection() string {
	return ix.collection
}

// RebuildAll recreates the collection and re-embeds every eligible Value
// reachable from the graph store. Idempotent and safe to repeat; the vector
// index is derived state.
func (ix *Indexer) RebuildAll(ctx context.Context) (int, error) {
	if err := ix.store.RecreateCollection(ctx, ix.collection, uint64(ix.embedder.Dimensions())); err != nil {
		return 0, types.WrapRetryableError(types.INDEX_WRITE_FAILED,
			"failed to recreate collection", err)
	}
	return ix.upsertRows(ctx, nil)
}

// UpsertPatients re-embeds and upserts the facts of the given patients only.
// This is the incremental path used after a graph load.
func (ix *Indexer) UpsertPatients(ctx context.Context, patientIDs []string) (int, error) {
	if len(patientIDs) == 0 {
		return 0, nil
	}
	if err := ix.store.EnsureCollection(ctx, ix.collection, uint64(ix.embedder.Dimensions())); err != nil {
		return 0, types.WrapRetryableError(types.INDEX_WRITE_FAILED,
			"failed to ensure collection", err)
	}
	return ix.upsertRows(ctx, patientIDs)
}

func (ix *Indexer) upsertRows(ctx context.Context, patientIDs []string) (int, error) {
	var pids any
	if patientIDs != nil {
		pids = patientIDs
	}

	result, err := ix.graph.Read(ctx, factRowsCypher, map[string]any{"pids": pids})
	if err != nil {
		return 0, types.WrapRetryableError(types.INDEX_WRITE_FAILED,
			"failed to read facts from graph store", err)
	}
	if len(result.Records) == 0 {
		return 0, nil
	}

	points, err := ix.rowsToPoints(ctx, result.Records)
	if err != nil {
		return 0, err
	}

	if err := ix.store.Upsert(ctx, ix.collection, points); err != nil {
		return 0, types.WrapRetryableError(types.INDEX_WRITE_FAILED,
			"failed to upsert vectors", err)
	}

	ix.logger.Info("vector upsert complete",
		"collection", ix.collection, "upserted", len(points))
	return len(points), nil
}

// rowsToPoints builds one point per fact row: canonical text, embedding, and
// a payload that carries the hashed patient identifier, never the raw one.
func (ix *Indexer) rowsToPoints(ctx context.Context, rows []map[string]any) ([]*Point, error) {
	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = canonicalText(row)
	}

	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, types.WrapRetryableError(types.INDEX_WRITE_FAILED,
			"failed to embed facts", err)
	}

	points := make([]*Point, len(rows))
	for i, row := range rows {
		pid, _ := row["patientID"].(string)
		valueID, _ := row["v_id"].(string)

		payload := map[string]any{
			payloadValueID:     valueID,
			payloadSchemaID:    row["s_id"],
			payloadPatientHash: ix.hasher.Hash(pid),
			payloadSection:     row["section"],
			payloadField:       row["field"],
			payloadValueType:   row["valueType"],
			payloadModel:       ix.embedder.Model(),
			payloadVersion:     embeddingVersion,
		}
		for key, col := range map[string]string{
			payloadUnit:         "unit",
			payloadCategory:     "category",
			payloadDiseaseType:  "disease_type",
			payloadSinceYear:    "since_year",
			payloadOnMedication: "on_medication",
		} {
			if v := row[col]; v != nil {
				payload[key] = v
			}
		}

		points[i] = &Point{
			ID:      asPointID(valueID),
			Vector:  vecs[i],
			Payload: payload,
		}
	}
	return points, nil
}

// Search embeds the query text and returns the Value identifiers of the topK
// nearest facts, optionally restricted to the given patients (matched by
// their hashed identifiers).
func (ix *Indexer) Search(ctx context.Context, queryText string, patientIDs []string, topK int) ([]string, error) {
	vec, err := ix.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	var filter *Filter
	if len(patientIDs) > 0 {
		filter = &Filter{
			Key:   payloadPatientHash,
			AnyOf: ix.hasher.HashAll(patientIDs),
		}
	}

	hits, err := ix.store.Search(ctx, ix.collection, vec, uint64(topK), filter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		if id, ok := hit.Payload[payloadValueID].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// canonicalText renders one fact row as the text unit that gets embedded.
func canonicalText(row map[string]any) string {
	section, _ := row["section"].(string)
	field, _ := row["field"].(string)

	if section == "MedicalHistory" && field == "PastDisease" {
		return fmt.Sprintf("Past disease (%v; type: %v), since %v, on medication: %v.",
			row["category"], row["disease_type"], row["since_year"], row["on_medication"])
	}

	var unit string
	if u, ok := row["unit"].(string); ok && u != "" {
		unit = " " + u
	}
	return fmt.Sprintf("Patient %s: %v%s.", field, row["value"], unit)
}

// asPointID converts a Value node identifier to the UUID form the vector
// store requires. Identifiers that are not UUIDs map deterministically via
// UUIDv5, so the same Value always lands on the same point.
func asPointID(valueID string) string {
	if valueID == "" {
		return uuid.NewString()
	}
	if id, err := uuid.Parse(strings.TrimSpace(valueID)); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(valueID)).String()
}
