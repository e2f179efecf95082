//go:build goexperiment.synctest

package engine

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/epokhe/kvengine/pkg/options"
)

func TestCompactionReclaimsSpaceAndKeepsLatestValues(t *testing.T) {
	synctest.Run(func() {
		dir := t.TempDir()
		e, err := Open(dir,
			WithMaxSegmentBytes(60),
			WithMergeEnabled(true),
			WithCompactionInterval(5*time.Millisecond),
			WithFragmentationThreshold(0.1),
			WithDeadBytesThreshold(1),
			WithMaxMergeBatch(10),
		)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer e.Close()

		// Overwrite the same key many times, each overwrite rotating into a new
		// segment and making the previous one's copy dead.
		for i := 0; i < 30; i++ {
			if err := e.Set([]byte("k"), []byte("value-for-this-round")); err != nil {
				t.Fatalf("Set #%d: %v", i, err)
			}
		}

		segsBefore := len(e.ImmutableSegmentIDs())

		time.Sleep(10 * time.Millisecond) // advance the bubble's fake clock past at least one tick
		synctest.Wait()                   // let the compaction ticker's goroutine run to completion

		if got := len(e.ImmutableSegmentIDs()); got >= segsBefore {
			t.Fatalf("compaction never reduced segment count below %d, got %d", segsBefore, got)
		}

		got, err := e.Get([]byte("k"))
		if err != nil || string(got) != "value-for-this-round" {
			t.Fatalf("Get after compaction = %q, %v, want value-for-this-round, nil", got, err)
		}
	})
}

func TestCompactionZeroRetargetSkipsWithoutConcurrentWriters(t *testing.T) {
	synctest.Run(func() {
		dir := t.TempDir()
		e, err := Open(dir,
			WithMaxSegmentBytes(60),
			WithMergeEnabled(true),
			WithCompactionInterval(5*time.Millisecond),
			WithFragmentationThreshold(0.1),
			WithDeadBytesThreshold(1),
			WithMaxMergeBatch(10),
		)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer e.Close()

		for i := 0; i < 20; i++ {
			if err := e.Set([]byte("k"), []byte("stable-value")); err != nil {
				t.Fatalf("Set #%d: %v", i, err)
			}
		}

		time.Sleep(10 * time.Millisecond) // advance the bubble's fake clock past at least one tick
		synctest.Wait()

		if skipped := e.compactor.SkippedRetargets(); skipped != 0 {
			t.Fatalf("SkippedRetargets() = %d, want 0 with no concurrent writers", skipped)
		}
	})
}

func TestSyncerTicksWithoutLeakingItsGoroutine(t *testing.T) {
	synctest.Run(func() {
		dir := t.TempDir()
		e, err := Open(dir,
			WithMergeEnabled(false),
			WithSyncPolicy(options.SyncPolicy{Kind: options.SyncInterval, Interval: 5 * time.Millisecond}),
		)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}

		if err := e.Set([]byte("k"), []byte("v")); err != nil {
			t.Fatalf("Set: %v", err)
		}

		time.Sleep(10 * time.Millisecond) // advance the bubble's fake clock past at least one tick
		synctest.Wait()                   // let the syncer tick at least once

		if err := e.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		// If the syncer's goroutine were still running, synctest.Run would
		// report a leaked goroutine when this function returns.
	})
}
