package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/epokhe/kvengine/pkg/options"
)

// Option configures an Engine at Open time, mirroring the teacher's
// functional-options pattern over a plain config struct.
type Option func(*options.Options)

// WithMaxSegmentBytes sets the size at which the active segment rotates.
func WithMaxSegmentBytes(n uint64) Option {
	return func(o *options.Options) { o.MaxSegmentBytes = n }
}

// WithOpenFilesMax bounds the number of immutable segment handles the file
// cache may hold open simultaneously.
func WithOpenFilesMax(n int) Option {
	return func(o *options.Options) { o.OpenFilesMax = n }
}

// WithSyncPolicy sets when the active segment is fsynced.
func WithSyncPolicy(p options.SyncPolicy) Option {
	return func(o *options.Options) { o.SyncPolicy = p }
}

// WithCompactionInterval sets how often the compactor scans for eligible
// segments. A value <= 0 disables the compactor entirely.
func WithCompactionInterval(d time.Duration) Option {
	return func(o *options.Options) { o.CompactionInterval = d }
}

// WithFragmentationThreshold sets the dead/total entry ratio at or above which a
// segment becomes compaction-eligible.
func WithFragmentationThreshold(f float64) Option {
	return func(o *options.Options) { o.FragmentationThreshold = f }
}

// WithDeadBytesThreshold sets the absolute dead-byte count at or above which a
// segment becomes compaction-eligible.
func WithDeadBytesThreshold(n uint64) Option {
	return func(o *options.Options) { o.DeadBytesThreshold = n }
}

// WithDeadBytesRatioThreshold sets the dead/total byte ratio at or above which a
// segment becomes compaction-eligible.
func WithDeadBytesRatioThreshold(f float64) Option {
	return func(o *options.Options) { o.DeadBytesRatioThreshold = f }
}

// WithMaxMergeBatch bounds how many segments the compactor merges in one
// batch.
func WithMaxMergeBatch(n int) Option {
	return func(o *options.Options) { o.MaxMergeBatch = n }
}

// WithMergeEnabled toggles the background compactor.
func WithMergeEnabled(enabled bool) Option {
	return func(o *options.Options) { o.MergeEnabled = enabled }
}

// WithSegmentSoftLimit sets the immutable segment count at or above which
// writes block until compaction drains it below the limit.
func WithSegmentSoftLimit(n int) Option {
	return func(o *options.Options) { o.SegmentSoftLimit = n }
}

// WithSegmentHardLimit sets the immutable segment count at or above which
// writes fail immediately with ErrOverloaded.
func WithSegmentHardLimit(n int) Option {
	return func(o *options.Options) { o.SegmentHardLimit = n }
}

// WithVerifyReads makes Get re-verify a record's checksum on every read,
// trading throughput for end-to-end corruption detection.
func WithVerifyReads(verify bool) Option {
	return func(o *options.Options) { o.VerifyReads = verify }
}

// WithLogger sets the engine's structured logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options.Options) { o.Logger = l }
}
