// Package kvengine is an embeddable, single-node, log-structured key/value
// store: append-only on-disk segments, an in-memory index, and background
// compaction. See internal/engine for the implementation.
package kvengine

import (
	"github.com/epokhe/kvengine/internal/engine"
	"github.com/epokhe/kvengine/pkg/kverrors"
	"github.com/epokhe/kvengine/pkg/options"
)

// Engine is a single open store. One Engine owns one data directory for its
// entire lifetime; opening the same directory twice concurrently fails with
// ErrLocked.
type Engine = engine.Engine

// Option configures an Engine at Open time.
type Option = engine.Option

// Open opens or creates the store at path, applying opts over the
// documented defaults.
func Open(path string, opts ...Option) (*Engine, error) {
	return engine.Open(path, opts...)
}

// SyncPolicy and SyncKind configure when the active segment is fsynced.
type (
	SyncPolicy = options.SyncPolicy
	SyncKind   = options.SyncKind
)

const (
	SyncNever      = options.SyncNever
	SyncEveryWrite = options.SyncEveryWrite
	SyncInterval   = options.SyncInterval
)

// Sentinel errors, distinguished with errors.Is.
var (
	ErrIO            = kverrors.ErrIO
	ErrLocked        = kverrors.ErrLocked
	ErrCorruptRecord = kverrors.ErrCorruptRecord
	ErrCorruptStore  = kverrors.ErrCorruptStore
	ErrTruncatedTail = kverrors.ErrTruncatedTail
	ErrOutOfRange    = kverrors.ErrOutOfRange
	ErrKeyTooLarge   = kverrors.ErrKeyTooLarge
	ErrValueTooLarge = kverrors.ErrValueTooLarge
	ErrKeyNotFound   = kverrors.ErrKeyNotFound
	ErrOverloaded    = kverrors.ErrOverloaded
	ErrClosed        = kverrors.ErrClosed
)

var (
	WithMaxSegmentBytes         = engine.WithMaxSegmentBytes
	WithOpenFilesMax            = engine.WithOpenFilesMax
	WithSyncPolicy              = engine.WithSyncPolicy
	WithCompactionInterval      = engine.WithCompactionInterval
	WithFragmentationThreshold  = engine.WithFragmentationThreshold
	WithDeadBytesThreshold      = engine.WithDeadBytesThreshold
	WithDeadBytesRatioThreshold = engine.WithDeadBytesRatioThreshold
	WithMaxMergeBatch           = engine.WithMaxMergeBatch
	WithMergeEnabled            = engine.WithMergeEnabled
	WithSegmentSoftLimit        = engine.WithSegmentSoftLimit
	WithSegmentHardLimit        = engine.WithSegmentHardLimit
	WithVerifyReads             = engine.WithVerifyReads
	WithLogger                  = engine.WithLogger
)
