package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/types"
)

// ContentHash computes the deterministic fingerprint of raw document bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint records what was last ingested for a document.
type Fingerprint struct {
	Hash    string
	File    string
	ModTime int64
	At      time.Time
}

// FingerprintStore persists per-document content hashes so re-ingestion
// decisions survive process restarts. Never read by query paths.
type FingerprintStore interface {
	// LastHash returns the stored hash for a document, with ok=false when
	// the document has never been recorded.
	LastHash(ctx context.Context, docID string) (string, bool, error)

	// Record updates the stored fingerprint for a document.
	Record(ctx context.Context, docID string, fp Fingerprint) error
}

const lastHashCypher = `
OPTIONAL MATCH (m:IngestionMeta {patientID: $pid})
RETURN m.last_hash AS last_hash
`

const recordMetaCypher = `
MERGE (p:Patient {patientID: $pid})
MERGE (m:IngestionMeta {patientID: $pid})
  ON CREATE SET m.first_ingested = datetime()
SET m.last_ingested = datetime(),
    m.last_file = $fname,
    m.last_mtime = $mtime,
    m.last_hash = $hash
MERGE (p)-[:HAS_INGESTION_META]->(m)
`

// GraphFingerprintStore keeps ingestion metadata as IngestionMeta nodes in
// the graph store, one per source document.
type GraphFingerprintStore struct {
	client graph.Client
}

// NewGraphFingerprintStore creates a fingerprint store backed by the graph store.
func NewGraphFingerprintStore(client graph.Client) *GraphFingerprintStore {
	return &GraphFingerprintStore{client: client}
}

// LastHash reads the last recorded content hash for a document.
func (s *GraphFingerprintStore) LastHash(ctx context.Context, docID string) (string, bool, error) {
	result, err := s.client.Read(ctx, lastHashCypher, map[string]any{"pid": docID})
	if err != nil {
		return "", false, types.WrapError(types.FINGERPRINT_FAILED,
			"failed to read fingerprint", err)
	}
	if len(result.Records) == 0 {
		return "", false, nil
	}
	hash, ok := result.Records[0]["last_hash"].(string)
	if !ok || hash == "" {
		return "", false, nil
	}
	return hash, true, nil
}

// Record merges the IngestionMeta node for a document.
func (s *GraphFingerprintStore) Record(ctx context.Context, docID string, fp Fingerprint) error {
	params := map[string]any{
		"pid":   docID,
		"fname": fp.File,
		"mtime": fp.ModTime,
		"hash":  fp.Hash,
	}
	if _, err := s.client.Write(ctx, recordMetaCypher, params); err != nil {
		return types.WrapError(types.FINGERPRINT_FAILED,
			"failed to record fingerprint", err)
	}
	return nil
}

// MemoryFingerprintStore is an in-memory FingerprintStore for tests.
type MemoryFingerprintStore struct {
	mu    sync.RWMutex
	seen  map[string]Fingerprint
	fail  error
}

// NewMemoryFingerprintStore creates an empty in-memory fingerprint store.
func NewMemoryFingerprintStore() *MemoryFingerprintStore {
	return &MemoryFingerprintStore{seen: make(map[string]Fingerprint)}
}

// FailWith makes subsequent operations return the given error.
func (s *MemoryFingerprintStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// LastHash returns the stored hash for a document.
func (s *MemoryFingerprintStore) LastHash(ctx context.Context, docID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return "", false, s.fail
	}
	fp, ok := s.seen[docID]
	return fp.Hash, ok, nil
}

// Record stores the fingerprint for a document.
func (s *MemoryFingerprintStore) Record(ctx context.Context, docID string, fp Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.seen[docID] = fp
	return nil
}

// Recorded returns the stored fingerprint for a document, for assertions.
func (s *MemoryFingerprintStore) Recorded(docID string) (Fingerprint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.seen[docID]
	return fp, ok
}
