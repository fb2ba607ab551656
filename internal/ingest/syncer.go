package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aurelia-health/emrgraph/internal/emr"
	"github.com/aurelia-health/emrgraph/internal/types"
)

// Upserter is the incremental vector-index path invoked after a successful
// graph load. Implemented by the vector indexer.
type Upserter interface {
	UpsertPatients(ctx context.Context, patientIDs []string) (int, error)
}

// SyncStats summarizes one sync pass.
type SyncStats struct {
	Scanned  int
	Skipped  int
	Ingested int
	Failed   int
}

// Syncer orchestrates ingestion passes over the document directory: it diffs
// content fingerprints and invokes the graph loader and vector indexer only
// for changed documents.
//
// At most one pass runs at a time; concurrent triggers are rejected with
// SYNC_ALREADY_ACTIVE rather than queued.
type Syncer struct {
	dir          string
	registry     *emr.Registry
	loader       *GraphLoader
	indexer      Upserter
	fingerprints FingerprintStore
	logger       *slog.Logger

	mu sync.Mutex
}

// NewSyncer creates a syncer over the given document directory.
func NewSyncer(dir string, registry *emr.Registry, loader *GraphLoader, indexer Upserter, fingerprints FingerprintStore, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		dir:          dir,
		registry:     registry,
		loader:       loader,
		indexer:      indexer,
		fingerprints: fingerprints,
		logger:       logger,
	}
}

// SyncOnce runs a single pass: SCAN → per document HASH_COMPARE →
// {SKIP | LOAD_GRAPH → INDEX_VECTORS → RECORD_FINGERPRINT}.
//
// The fingerprint is recorded only after both the graph load and the vector
// upsert succeed, so a failed document is retried on the next pass. Failures
// on one document never abort the pass for the others.
func (s *Syncer) SyncOnce(ctx context.Context) (SyncStats, error) {
	if !s.mu.TryLock() {
		return SyncStats{}, types.NewError(types.SYNC_ALREADY_ACTIVE, "a sync pass is already running")
	}
	defer s.mu.Unlock()

	stats := SyncStats{}

	if err := s.loader.EnsureSchema(ctx); err != nil {
		return stats, err
	}

	files, err := s.scan()
	if err != nil {
		return stats, err
	}

	for _, file := range files {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Scanned++

		switch s.syncFile(ctx, file) {
		case outcomeSkipped:
			stats.Skipped++
		case outcomeIngested:
			stats.Ingested++
		case outcomeFailed:
			stats.Failed++
		}
	}

	s.logger.Info("sync pass finished",
		"scanned", stats.Scanned,
		"skipped", stats.Skipped,
		"ingested", stats.Ingested,
		"failed", stats.Failed,
	)
	return stats, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeIngested
	outcomeFailed
)

func (s *Syncer) syncFile(ctx context.Context, path string) outcome {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("failed to read document", "file", filepath.Base(path), "error", err)
		return outcomeFailed
	}

	docs, err := emr.ParseRecords(data, s.registry)
	if err != nil {
		s.logger.Warn("failed to parse document", "file", filepath.Base(path), "error", err)
		return outcomeFailed
	}
	if len(docs) == 0 || docs[0].PatientID == "" {
		return outcomeSkipped
	}

	// The document is keyed by the patient identifier it carries.
	docID := docs[0].PatientID
	hash := ContentHash(data)

	lastHash, seen, err := s.fingerprints.LastHash(ctx, docID)
	if err != nil {
		s.logger.Warn("failed to read fingerprint", "file", filepath.Base(path), "error", err)
		return outcomeFailed
	}
	if seen && lastHash == hash {
		return outcomeSkipped
	}

	patientIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		if _, err := s.loader.Load(ctx, doc); err != nil {
			// Fingerprint stays stale so the next pass retries this document.
			s.logger.Warn("graph load failed", "file", filepath.Base(path), "error", err)
			return outcomeFailed
		}
		patientIDs = append(patientIDs, doc.PatientID)
	}

	if _, err := s.indexer.UpsertPatients(ctx, patientIDs); err != nil {
		s.logger.Warn("vector upsert failed", "file", filepath.Base(path), "error", err)
		return outcomeFailed
	}

	var modTime int64
	if info, err := os.Stat(path); err == nil {
		modTime = info.ModTime().Unix()
	}
	fp := Fingerprint{
		Hash:    hash,
		File:    filepath.Base(path),
		ModTime: modTime,
		At:      time.Now(),
	}
	if err := s.fingerprints.Record(ctx, docID, fp); err != nil {
		s.logger.Warn("failed to record fingerprint", "file", filepath.Base(path), "error", err)
		return outcomeFailed
	}

	return outcomeIngested
}

// scan enumerates candidate documents, sorted for deterministic passes.
func (s *Syncer) scan() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, types.WrapError(types.FINGERPRINT_FAILED, "failed to scan document directory", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// RunPeriodic runs sync passes on the given interval until the context is
// cancelled. Pass errors are logged, not fatal.
func (s *Syncer) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			// Log messages stay free of patient data.
			s.logger.Error("sync pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
