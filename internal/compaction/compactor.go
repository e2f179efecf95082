package compaction

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/epokhe/kvengine/internal/index"
	"github.com/epokhe/kvengine/internal/record"
	"github.com/epokhe/kvengine/internal/segment"
	"github.com/epokhe/kvengine/pkg/kverrors"
)

// Host is the narrow slice of engine state and operations the compactor
// needs. The engine implements it; compaction never imports engine,
// avoiding an import cycle while still letting the compactor drive the
// engine's segment list and index under the engine's own locks.
type Host interface {
	Logger() *zap.SugaredLogger
	Index() *index.Index
	Analysis() *Analysis

	// ImmutableSegmentIDs returns every non-active segment id, in no
	// guaranteed order.
	ImmutableSegmentIDs() []uint64

	// OpenForRead returns a read handle to segment id, via the engine's
	// file cache.
	OpenForRead(id uint64) (*segment.Segment, error)

	// ClaimSegmentID returns a fresh id greater than any existing segment.
	ClaimSegmentID() uint64

	// SegmentPath and HintPath return the final on-disk paths for id.
	SegmentPath(id uint64) string
	HintPath(id uint64) string

	// SwapIn installs newSeg (with freshly-seeded stats newStats) in place
	// of oldIDs under the engine's exclusive lock, removes oldIDs from the
	// live segment list and analysis table, and invalidates their cache
	// entries. It does not touch the filesystem.
	SwapIn(oldIDs []uint64, newSeg *segment.Segment, newStats Stats)

	// RemoveSegmentFiles unlinks id's .log and .cpct files from disk.
	RemoveSegmentFiles(id uint64)
}

// Compactor is the background worker that periodically merges fragmented
// immutable segments. It runs with at most one merge in flight at a time.
type Compactor struct {
	host   Host
	th     Thresholds
	tick   time.Duration
	sem    chan struct{}
	stopCh chan struct{}

	// skippedRetargets counts index.Retarget calls that lost a race to a
	// concurrent writer during the most recent batch; exposed for tests.
	skippedRetargets int
}

// New creates a Compactor that scans host on the given interval using th to
// select batches.
func New(host Host, th Thresholds, interval time.Duration) *Compactor {
	return &Compactor{
		host:   host,
		th:     th,
		tick:   interval,
		sem:    make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Run is the compactor's main loop. It returns when Stop is called.
func (c *Compactor) Run() {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.tryRunBatch()
		}
	}
}

// Stop signals Run to exit. It does not wait for an in-flight batch.
func (c *Compactor) Stop() {
	close(c.stopCh)
}

// TriggerBatch requests an immediate compaction attempt, used by the engine
// right after rotation once the immutable segment count grows. It is a
// non-blocking best-effort nudge: if a batch is already running, this is a
// no-op.
func (c *Compactor) TriggerBatch() {
	c.tryRunBatch()
}

func (c *Compactor) tryRunBatch() {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	default:
		return // a batch is already running
	}

	ids := c.host.ImmutableSegmentIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	batch := SelectBatch(c.host.Analysis().Snapshot(), ids, c.th)
	if len(batch) == 0 {
		return
	}

	// runID correlates this batch's start/finish log lines; segment ids
	// alone don't identify a run if a later batch happens to reclaim one of
	// the same ids after a crash-restart renumbering.
	runID := uuid.NewString()
	c.host.Logger().Infow("compaction batch starting", "run_id", runID, "batch", batch)

	if err := c.mergeBatch(runID, batch); err != nil {
		c.host.Logger().Warnw("compaction batch failed", "run_id", runID, "batch", batch, "error", err)
	}
}

// SkippedRetargets returns the number of keys that raced a concurrent
// writer during the most recently completed batch.
func (c *Compactor) SkippedRetargets() int { return c.skippedRetargets }

type remapEntry struct {
	key          string
	expectedPrev index.Entry
	next         index.Entry
}

func (c *Compactor) mergeBatch(runID string, batch []uint64) error {
	batchSet := make(map[uint64]struct{}, len(batch))
	for _, id := range batch {
		batchSet[id] = struct{}{}
	}

	snapshot := c.host.Index().Snapshot(batchSet)

	newID := c.host.ClaimSegmentID()
	finalPath := c.host.SegmentPath(newID)
	tmpPath := finalPath + ".tmp"

	newSeg, err := segment.Create(tmpPath, newID)
	if err != nil {
		return fmt.Errorf("compaction: create merge segment: %w", err)
	}

	var remap []remapEntry
	var hintEntries []segment.HintEntry
	liveCount := int64(0)

	for _, ke := range snapshot {
		select {
		case <-c.stopCh:
			_ = newSeg.Remove()
			return fmt.Errorf("compaction: stopped mid-batch")
		default:
		}

		src, err := c.host.OpenForRead(ke.Entry.SegmentID)
		if err != nil {
			c.host.Logger().Warnw("compaction: open source segment failed, skipping key", "segment", ke.Entry.SegmentID, "error", err)
			continue
		}

		rec, err := src.ReadRecordAt(ke.Entry.Offset, ke.Entry.KeyLen, uint32(ke.Entry.Length), true)
		if err != nil {
			c.host.Logger().Warnw("compaction: corrupt record skipped", "key", ke.Key, "segment", ke.Entry.SegmentID, "error", err)
			continue
		}

		buf, err := record.Encode(rec.Key, rec.Value, rec.Timestamp, rec.Kind)
		if err != nil {
			c.host.Logger().Warnw("compaction: re-encode failed, skipping key", "key", ke.Key, "error", err)
			continue
		}

		off, err := newSeg.Append(buf)
		if err != nil {
			_ = newSeg.Remove()
			return fmt.Errorf("compaction: append to merge segment: %w", err)
		}

		valueOffset := off + int64(len(buf)) - int64(len(rec.Value))
		nextEntry := index.Entry{
			SegmentID: newID,
			Offset:    valueOffset,
			Length:    int64(len(rec.Value)),
			KeyLen:    uint32(len(rec.Key)),
			Timestamp: rec.Timestamp,
		}

		remap = append(remap, remapEntry{key: ke.Key, expectedPrev: ke.Entry, next: nextEntry})
		hintEntries = append(hintEntries, segment.HintEntry{
			Key: rec.Key, Offset: valueOffset, Length: int64(len(rec.Value)), Timestamp: rec.Timestamp,
		})
		liveCount++
	}

	if err := newSeg.Sync(); err != nil {
		_ = newSeg.Remove()
		return fmt.Errorf("compaction: sync merge segment: %w", err)
	}

	hintFinal := c.host.HintPath(newID)
	hintTmp := hintFinal + ".tmp"
	if err := segment.WriteHint(hintTmp, hintEntries); err != nil {
		_ = newSeg.Remove()
		return fmt.Errorf("compaction: write hint: %w", err)
	}
	if err := os.Rename(hintTmp, hintFinal); err != nil {
		_ = newSeg.Remove()
		return fmt.Errorf("compaction: commit hint: %w: %v", kverrors.ErrIO, err)
	}
	if err := newSeg.Rename(finalPath); err != nil {
		return fmt.Errorf("compaction: commit merge segment: %w", err)
	}

	skipped := 0
	for _, r := range remap {
		if !c.host.Index().Retarget(r.key, r.expectedPrev, r.next) {
			skipped++
		}
	}
	c.skippedRetargets = skipped

	newStats := Stats{
		LiveEntries:  liveCount - int64(skipped),
		DeadEntries:  int64(skipped),
		TotalEntries: liveCount,
		TotalBytes:   newSeg.Size(),
	}

	c.host.SwapIn(batch, newSeg, newStats)

	for _, id := range batch {
		c.host.RemoveSegmentFiles(id)
	}

	c.host.Logger().Infow("compaction batch completed", "run_id", runID, "batch", batch, "new_segment", newID, "live", newStats.LiveEntries, "skipped_retargets", skipped)
	return nil
}

