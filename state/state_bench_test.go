package state

import (
	"fmt"
	"testing"
)

// BenchmarkFileTracker_MarkProcessed measures marker write throughput, one marker per sealed log.
func BenchmarkFileTracker_MarkProcessed(b *testing.B) {
	tracker, err := NewFileTracker(b.TempDir(), true)
	if err != nil {
		b.Fatal(err)
	}
	defer tracker.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tracker.MarkProcessed(fmt.Sprintf("sealed:%d", i), "bench-run"); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := tracker.Close(); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkFileTracker_Load measures replaying a state file with markers and tombstones.
func BenchmarkFileTracker_Load(b *testing.B) {
	dir := b.TempDir()

	tracker, err := NewFileTracker(dir, true)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		if err := tracker.MarkProcessed(fmt.Sprintf("sealed:%d", i), "bench-run"); err != nil {
			b.Fatal(err)
		}
		if i%2500 == 2499 {
			if err := tracker.Forget("sealed:"); err != nil {
				b.Fatal(err)
			}
		}
	}
	if err := tracker.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker, err := NewFileTracker(dir, false)
		if err != nil {
			b.Fatal(err)
		}
		tracker.Close()
	}
}
