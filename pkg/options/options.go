// Package options defines the engine's configuration surface: the concrete
// Options struct, its defaults, and its sync policy. internal/engine layers
// functional With* constructors on top of this struct, mirroring the
// teacher's core.Option pattern.
package options

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SyncKind selects when the active segment is fsynced.
type SyncKind int

const (
	// SyncNever relies on the OS to flush dirty pages on its own schedule.
	SyncNever SyncKind = iota
	// SyncEveryWrite fsyncs the active segment before every Set/Remove returns.
	SyncEveryWrite
	// SyncInterval fsyncs the active segment on a fixed cadence, driven by
	// the engine's syncer goroutine.
	SyncInterval
)

// SyncPolicy configures engine durability. Zero value is SyncNever.
type SyncPolicy struct {
	Kind     SyncKind
	Interval time.Duration // only meaningful when Kind == SyncInterval
}

// Options holds every tunable parameter of the engine. Construct with
// Default and override fields via the engine's With* functions, or set
// fields directly before calling Validate.
type Options struct {
	MaxSegmentBytes uint64
	OpenFilesMax    int

	SyncPolicy SyncPolicy

	CompactionInterval      time.Duration
	FragmentationThreshold  float64
	DeadBytesThreshold      uint64
	DeadBytesRatioThreshold float64
	MaxMergeBatch           int
	MergeEnabled            bool

	SegmentSoftLimit int
	SegmentHardLimit int

	VerifyReads bool

	// Logger receives the engine's structured log output. Nil means a no-op
	// logger; the engine package substitutes zap.NewNop().Sugar() in that case.
	Logger *zap.SugaredLogger
}

// Default returns the documented default configuration (§6).
func Default() Options {
	return Options{
		MaxSegmentBytes:         128 * 1024 * 1024,
		OpenFilesMax:            64,
		SyncPolicy:              SyncPolicy{Kind: SyncNever},
		CompactionInterval:      60 * time.Second,
		FragmentationThreshold:  0.40,
		DeadBytesThreshold:      16 * 1024 * 1024,
		DeadBytesRatioThreshold: 0.60,
		MaxMergeBatch:           4,
		MergeEnabled:            true,
		SegmentSoftLimit:        1000,
		SegmentHardLimit:        10000,
		VerifyReads:             false,
	}
}

// Validate rejects configurations that can never produce a working engine.
func (o *Options) Validate() error {
	if o.MaxSegmentBytes == 0 {
		return fmt.Errorf("options: MaxSegmentBytes must be > 0")
	}
	if o.OpenFilesMax <= 0 {
		return fmt.Errorf("options: OpenFilesMax must be > 0")
	}
	if o.SyncPolicy.Kind == SyncInterval && o.SyncPolicy.Interval <= 0 {
		return fmt.Errorf("options: SyncPolicy interval must be > 0 for SyncInterval")
	}
	if o.FragmentationThreshold < 0 || o.FragmentationThreshold > 1 {
		return fmt.Errorf("options: FragmentationThreshold must be in [0,1]")
	}
	if o.DeadBytesRatioThreshold < 0 || o.DeadBytesRatioThreshold > 1 {
		return fmt.Errorf("options: DeadBytesRatioThreshold must be in [0,1]")
	}
	if o.MaxMergeBatch <= 0 {
		return fmt.Errorf("options: MaxMergeBatch must be > 0")
	}
	if o.SegmentSoftLimit <= 0 || o.SegmentHardLimit <= 0 {
		return fmt.Errorf("options: segment limits must be > 0")
	}
	if o.SegmentHardLimit < o.SegmentSoftLimit {
		return fmt.Errorf("options: SegmentHardLimit must be >= SegmentSoftLimit")
	}
	return nil
}
