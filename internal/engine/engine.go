// Package engine implements the storage engine facade: recovery, segment
// rotation, backpressure, and the Get/Set/Remove/Close surface re-exported
// from the root package.
package engine

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/epokhe/kvengine/internal/compaction"
	"github.com/epokhe/kvengine/internal/filecache"
	"github.com/epokhe/kvengine/internal/index"
	"github.com/epokhe/kvengine/internal/record"
	"github.com/epokhe/kvengine/internal/segment"
	"github.com/epokhe/kvengine/pkg/kverrors"
	"github.com/epokhe/kvengine/pkg/options"
)

const idWidth = 20 // zero-padded decimal digits in a segment filename

// Engine is a single-node, embeddable log-structured key/value store. One
// Engine owns one data directory for its entire lifetime.
type Engine struct {
	dir    string
	opts   options.Options
	logger *zap.SugaredLogger

	dirLock *segment.DirLock

	activeMu         sync.Mutex
	active           *segment.Segment
	activeEntryCount int64

	rw       sync.RWMutex
	segments []*segment.Segment // immutable, in the order sealed or swapped in (not sorted by ID)

	idx      *index.Index
	analysis *compaction.Analysis
	cache    *filecache.Cache

	nextID atomic.Uint64
	clock  atomic.Uint64
	closed atomic.Bool
	failed atomic.Bool

	backpressure *sync.Cond

	stopCh    chan struct{}
	workersWG sync.WaitGroup
	syncer    *syncer
	compactor *compaction.Compactor
}

// Open opens or creates the store at path, applying opts over the documented
// defaults.
func Open(path string, opts ...Option) (*Engine, error) {
	o := options.Default()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir %q: %w: %v", path, kverrors.ErrIO, err)
	}

	dirLock, err := segment.LockDir(path)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:      path,
		opts:     o,
		logger:   logger,
		dirLock:  dirLock,
		idx:      index.New(),
		analysis: compaction.NewAnalysis(),
		cache:    filecache.New(o.OpenFilesMax),
		stopCh:   make(chan struct{}),
	}
	e.backpressure = sync.NewCond(&e.rw)

	if err := e.recover(); err != nil {
		_ = dirLock.Unlock()
		return nil, err
	}

	if o.SyncPolicy.Kind == options.SyncInterval {
		e.syncer = newSyncer(e, o.SyncPolicy.Interval)
		e.workersWG.Add(1)
		go func() {
			defer e.workersWG.Done()
			e.syncer.run()
		}()
	}

	if o.MergeEnabled && o.CompactionInterval > 0 {
		th := compaction.Thresholds{
			FragmentationThreshold:  o.FragmentationThreshold,
			DeadBytesThreshold:      int64(o.DeadBytesThreshold),
			DeadBytesRatioThreshold: o.DeadBytesRatioThreshold,
			MaxMergeBatch:           o.MaxMergeBatch,
			MaxSegmentBytes:         int64(o.MaxSegmentBytes),
		}
		e.compactor = compaction.New(e, th, o.CompactionInterval)
		e.workersWG.Add(1)
		go func() {
			defer e.workersWG.Done()
			e.compactor.Run()
		}()
	}

	e.logger.Infow("engine opened", "path", path, "segments", len(e.segments)+1)
	return e, nil
}

// segmentPath returns the final .log path for id.
func (e *Engine) segmentPath(id uint64) string {
	return filepath.Join(e.dir, fmt.Sprintf("%0*d.log", idWidth, id))
}

func (e *Engine) hintPath(id uint64) string {
	return filepath.Join(e.dir, fmt.Sprintf("%0*d.cpct", idWidth, id))
}

// claimID hands out the next globally unique, strictly increasing segment
// id. Safe to call without holding any other lock.
func (e *Engine) claimID() uint64 {
	return e.nextID.Add(1) - 1
}

// recover scans the data directory, replays every segment into the index,
// seeds compaction analysis, removes stale .tmp artifacts, and opens the
// next active segment.
func (e *Engine) recover() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("engine: read data dir: %w: %v", kverrors.ErrIO, err)
	}

	var ids []uint64
	seen := mapset.NewThreadUnsafeSet[uint64]()
	for _, ent := range entries {
		name := ent.Name()
		switch {
		case filepath.Ext(name) == ".tmp":
			if rmErr := os.Remove(filepath.Join(e.dir, name)); rmErr != nil {
				e.logger.Warnw("failed to remove stale tmp artifact", "name", name, "error", rmErr)
			} else {
				e.logger.Infow("removed stale compaction tmp artifact", "name", name)
			}
		case filepath.Ext(name) == ".log":
			id, perr := strconv.ParseUint(name[:len(name)-len(".log")], 10, 64)
			if perr != nil {
				continue
			}
			if !seen.Contains(id) {
				seen.Add(id)
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		isHighestID := i == len(ids)-1
		if err := e.recoverSegment(id, isHighestID); err != nil {
			return err
		}
	}

	nextID := uint64(1)
	if len(ids) > 0 {
		nextID = ids[len(ids)-1] + 1
	}
	e.nextID.Store(nextID)

	id := e.claimID()
	active, err := segment.Create(e.segmentPath(id), id)
	if err != nil {
		return fmt.Errorf("engine: create active segment: %w", err)
	}
	e.active = active

	return nil
}

// recoverSegment replays one segment file into the index and seeds its
// analysis row. isHighestID marks the one segment eligible for tail
// truncation; every segment recover scans here ends up immutable, since
// recover always opens a fresh active segment above the highest existing id.
func (e *Engine) recoverSegment(id uint64, isHighestID bool) error {
	path := e.segmentPath(id)
	seg, err := segment.Open(path, id)
	if err != nil {
		return fmt.Errorf("engine: open segment %d: %w", id, err)
	}

	if !isHighestID {
		if entries, herr := segment.ReadHint(e.hintPath(id)); herr == nil {
			e.replayHint(id, entries, seg.Size())
			e.segments = append(e.segments, seg)
			return nil
		}
	}

	if err := e.replayScan(seg, id, isHighestID); err != nil {
		return err
	}
	e.segments = append(e.segments, seg)
	return nil
}

// replayHint installs every entry from a segment's hint file into the
// index, honoring Invariant 3 against entries already installed from
// lower-id segments scanned earlier in recovery. A hint lists only the
// live records as of the compaction that wrote it, so every listed entry
// that loses here was superseded later and counts as dead.
func (e *Engine) replayHint(id uint64, entries []segment.HintEntry, totalBytes int64) {
	var dead int64
	for _, he := range entries {
		installed := e.idx.InstallIfWins(string(he.Key), index.Entry{
			SegmentID: id,
			Offset:    he.Offset,
			Length:    he.Length,
			KeyLen:    uint32(len(he.Key)),
			Timestamp: he.Timestamp,
		})
		if !installed {
			dead++
		}
		e.bumpClock(he.Timestamp)
	}
	e.analysis.Seed(id, compaction.Stats{
		LiveEntries:  int64(len(entries)) - dead,
		DeadEntries:  dead,
		TotalBytes:   totalBytes,
		TotalEntries: int64(len(entries)),
	})
}

func (e *Engine) replayScan(seg *segment.Segment, id uint64, isHighestID bool) error {
	sc := record.NewScanner(seg, false)
	var live, dead, total int64
	var lastGoodEnd int64

	for sc.Scan() {
		sr := sc.Record()
		total++
		lastGoodEnd = sc.End()

		if sr.Kind == record.KindTombstone {
			if prev, had := e.idx.Remove(string(sr.Key)); had {
				e.markDead(prev)
			}
			dead++
			e.bumpClock(sr.Timestamp)
			continue
		}

		valueOffset := sr.Offset + int64(record.HeaderLen) + int64(len(sr.Key))
		ent := index.Entry{
			SegmentID: id,
			Offset:    valueOffset,
			Length:    int64(len(sr.Value)),
			KeyLen:    uint32(len(sr.Key)),
			Timestamp: sr.Timestamp,
		}
		if e.idx.InstallIfWins(string(sr.Key), ent) {
			live++
		} else {
			dead++
		}
		e.bumpClock(sr.Timestamp)
	}

	if err := sc.Err(); err != nil {
		if errors.Is(err, kverrors.ErrTruncatedTail) {
			if !isHighestID {
				return fmt.Errorf("engine: truncated tail in non-active segment %d: %w", id, kverrors.ErrCorruptStore)
			}
			e.logger.Warnw("truncating partial tail record", "segment", id, "offset", lastGoodEnd)
			if err := seg.Truncate(lastGoodEnd); err != nil {
				return err
			}
		} else {
			return fmt.Errorf("engine: scan segment %d: %w", id, err)
		}
	}

	e.analysis.ActivateTotals(id, seg.Size(), total)
	return nil
}

func (e *Engine) bumpClock(ts uint64) {
	for {
		cur := e.clock.Load()
		if ts <= cur || e.clock.CompareAndSwap(cur, ts) {
			return
		}
	}
}

func (e *Engine) markDead(prev index.Entry) {
	deadBytes := int64(record.HeaderLen) + int64(prev.KeyLen) + prev.Length
	e.analysis.MarkOverwritten(prev.SegmentID, deadBytes)
}

// Get returns the current value for key.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() || e.failed.Load() {
		return nil, kverrors.ErrClosed
	}

	e.rw.RLock()
	ent, ok := e.idx.Lookup(string(key))
	e.rw.RUnlock()
	if !ok {
		return nil, kverrors.ErrKeyNotFound
	}

	seg, err := e.openForRead(ent.SegmentID)
	if err != nil {
		return nil, err
	}

	if e.opts.VerifyReads {
		rec, err := seg.ReadRecordAt(ent.Offset, ent.KeyLen, uint32(ent.Length), true)
		if err != nil {
			return nil, err
		}
		return rec.Value, nil
	}

	return seg.ReadAt(ent.Offset, ent.Length)
}

// openForRead resolves id to a read handle: the active segment directly, or
// an immutable one via the file cache.
func (e *Engine) openForRead(id uint64) (*segment.Segment, error) {
	e.activeMu.Lock()
	if e.active != nil && e.active.ID == id {
		seg := e.active
		e.activeMu.Unlock()
		return seg, nil
	}
	e.activeMu.Unlock()

	return e.cache.Get(id, func(id uint64) (*segment.Segment, error) {
		return segment.Open(e.segmentPath(id), id)
	})
}

// Set installs value for key, appending a new record to the active segment.
func (e *Engine) Set(key, value []byte) error {
	_, err := e.write(key, value, record.KindValue)
	return err
}

// Remove tombstones key, returning whether a live entry previously existed.
func (e *Engine) Remove(key []byte) (bool, error) {
	return e.write(key, nil, record.KindTombstone)
}

// write appends an encoded record for key to the active segment, rotating
// first if needed, then updates the index and fragmentation accounting. It
// returns whether a previous live entry for key existed.
func (e *Engine) write(key, value []byte, kind record.Kind) (bool, error) {
	if e.closed.Load() || e.failed.Load() {
		return false, kverrors.ErrClosed
	}
	if len(key) > math.MaxUint32 {
		return false, fmt.Errorf("engine: key length %d: %w", len(key), kverrors.ErrKeyTooLarge)
	}
	if len(value) > math.MaxUint32 {
		return false, fmt.Errorf("engine: value length %d: %w", len(value), kverrors.ErrValueTooLarge)
	}

	if err := e.applyBackpressure(); err != nil {
		return false, err
	}

	ts := e.clock.Add(1)
	buf, err := record.Encode(key, value, ts, kind)
	if err != nil {
		return false, err
	}

	e.activeMu.Lock()
	if e.active.Size()+int64(len(buf)) > int64(e.opts.MaxSegmentBytes) {
		if err := e.rotate(); err != nil {
			e.activeMu.Unlock()
			return false, err
		}
	}

	off, err := e.active.Append(buf)
	if err != nil {
		e.activeMu.Unlock()
		e.failed.Store(true)
		return false, fmt.Errorf("engine: append failed, engine disabled: %w", err)
	}
	segID := e.active.ID
	e.activeEntryCount++

	if e.opts.SyncPolicy.Kind == options.SyncEveryWrite {
		if err := e.active.Sync(); err != nil {
			e.activeMu.Unlock()
			e.failed.Store(true)
			return false, fmt.Errorf("engine: sync failed, engine disabled: %w", err)
		}
	}
	e.activeMu.Unlock()

	valueOffset := off + int64(record.HeaderLen) + int64(len(key))
	newEntry := index.Entry{SegmentID: segID, Offset: valueOffset, Length: int64(len(value)), KeyLen: uint32(len(key)), Timestamp: ts}

	e.rw.Lock()
	var prev index.Entry
	var hadPrev bool
	if kind == record.KindTombstone {
		prev, hadPrev = e.idx.Remove(string(key))
	} else {
		prev, hadPrev = e.idx.Install(string(key), newEntry)
	}
	e.rw.Unlock()

	if hadPrev {
		e.markDead(prev)
	}
	if kind == record.KindTombstone {
		// The tombstone's own record carries no live data; it is dead from
		// the instant it is written, even before its segment is sealed.
		e.analysis.MarkOverwritten(segID, int64(len(buf)))
	}

	return hadPrev, nil
}

// rotate seals the current active segment and opens a fresh one. Caller
// must hold activeMu.
func (e *Engine) rotate() error {
	outgoing := e.active
	if err := outgoing.Sync(); err != nil {
		return fmt.Errorf("engine: sync outgoing segment %d: %w", outgoing.ID, err)
	}

	id := e.claimID()
	newSeg, err := segment.Create(e.segmentPath(id), id)
	if err != nil {
		return fmt.Errorf("engine: create rotated segment: %w", err)
	}

	entries := e.activeEntryCount
	e.activeEntryCount = 0
	e.analysis.ActivateTotals(outgoing.ID, outgoing.Size(), entries)

	e.rw.Lock()
	e.segments = append(e.segments, outgoing)
	e.active = newSeg
	e.rw.Unlock()

	e.backpressure.Broadcast()
	e.logger.Infow("rotated active segment", "sealed", outgoing.ID, "new_active", newSeg.ID)

	if e.compactor != nil {
		e.compactor.TriggerBatch()
	}
	return nil
}

// applyBackpressure blocks while the immutable segment count is at or above
// SegmentSoftLimit, and fails immediately at SegmentHardLimit.
func (e *Engine) applyBackpressure() error {
	e.rw.Lock()
	defer e.rw.Unlock()
	for len(e.segments) >= e.opts.SegmentSoftLimit {
		if len(e.segments) >= e.opts.SegmentHardLimit {
			return kverrors.ErrOverloaded
		}
		e.backpressure.Wait()
	}
	return nil
}

// Close stops background workers and releases all resources. Idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return kverrors.ErrClosed
	}

	close(e.stopCh)
	if e.compactor != nil {
		e.compactor.Stop()
	}
	e.workersWG.Wait()

	var firstErr error
	e.activeMu.Lock()
	if e.active != nil {
		if err := e.active.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.active.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.activeMu.Unlock()

	e.rw.Lock()
	for _, s := range e.segments {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.rw.Unlock()

	if err := e.cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.dirLock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.logger.Infow("engine closed")
	return firstErr
}

// DiskSize returns the sum of every on-disk segment file's current size.
func (e *Engine) DiskSize() (int64, error) {
	e.activeMu.Lock()
	total := e.active.Size()
	e.activeMu.Unlock()

	e.rw.RLock()
	defer e.rw.RUnlock()
	for _, s := range e.segments {
		total += s.Size()
	}
	return total, nil
}
