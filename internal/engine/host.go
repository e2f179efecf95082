package engine

import (
	"os"

	"go.uber.org/zap"

	"github.com/epokhe/kvengine/internal/compaction"
	"github.com/epokhe/kvengine/internal/index"
	"github.com/epokhe/kvengine/internal/segment"
)

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// This file implements compaction.Host: the narrow slice of engine state
// the background compactor is allowed to touch.

func (e *Engine) Logger() *zap.SugaredLogger     { return e.logger }
func (e *Engine) Index() *index.Index            { return e.idx }
func (e *Engine) Analysis() *compaction.Analysis { return e.analysis }

// ImmutableSegmentIDs returns every non-active segment id.
func (e *Engine) ImmutableSegmentIDs() []uint64 {
	e.rw.RLock()
	defer e.rw.RUnlock()
	ids := make([]uint64, len(e.segments))
	for i, s := range e.segments {
		ids[i] = s.ID
	}
	return ids
}

// OpenForRead resolves id to a read handle via the file cache.
func (e *Engine) OpenForRead(id uint64) (*segment.Segment, error) {
	return e.openForRead(id)
}

// ClaimSegmentID hands out a fresh id for a compaction output segment.
func (e *Engine) ClaimSegmentID() uint64 { return e.claimID() }

func (e *Engine) SegmentPath(id uint64) string { return e.segmentPath(id) }
func (e *Engine) HintPath(id uint64) string    { return e.hintPath(id) }

// SwapIn installs newSeg in place of oldIDs: removes the old segments from
// the live list, file cache, and analysis table, and appends the new one.
// It performs no filesystem work.
func (e *Engine) SwapIn(oldIDs []uint64, newSeg *segment.Segment, newStats compaction.Stats) {
	oldSet := make(map[uint64]struct{}, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[id] = struct{}{}
	}

	e.rw.Lock()
	kept := e.segments[:0]
	for _, s := range e.segments {
		if _, drop := oldSet[s.ID]; drop {
			continue
		}
		kept = append(kept, s)
	}
	e.segments = append(kept, newSeg)
	e.rw.Unlock()

	for _, id := range oldIDs {
		e.analysis.Remove(id)
	}
	e.analysis.Seed(newSeg.ID, newStats)

	for _, id := range oldIDs {
		e.cache.Invalidate(id)
	}

	e.backpressure.Broadcast()
}

// RemoveSegmentFiles unlinks id's .log and .cpct files from disk. Called
// only after SwapIn has already redirected the index and segment list.
func (e *Engine) RemoveSegmentFiles(id uint64) {
	if err := removeIfExists(e.segmentPath(id)); err != nil {
		e.logger.Warnw("failed to remove compacted segment file", "segment", id, "error", err)
	}
	if err := removeIfExists(e.hintPath(id)); err != nil {
		e.logger.Warnw("failed to remove compacted hint file", "segment", id, "error", err)
	}
}
