//go:build linux

package async

import (
	"testing"
)

// ============================================================================
// System Monitor Test Universe (Linux)
// ============================================================================
//
// Theme: System monitoring verifies that memory stats can be read from the OS
// ============================================================================

func TestGetMemoryStats_Linux(t *testing.T) {
	t.Run("system monitor reads memory stats", func(t *testing.T) {
		total, available, err := getMemoryStats()
		if err != nil {
			t.Fatalf("Failed to get memory stats: %v", err)
		}

		if total == 0 {
			t.Error("Expected total memory > 0")
		}
		if available > total {
			t.Errorf("Available memory (%d) cannot exceed total memory (%d)", available, total)
		}

		t.Logf("Memory stats: total=%.2f GB, available=%.2f GB",
			float64(total)/bytesPerGB, float64(available)/bytesPerGB)
	})

	t.Run("system monitor reports a percentage", func(t *testing.T) {
		m := ReadSystemMetrics()
		if m.MemoryTotalGB <= 0 {
			t.Fatal("Expected total memory in metrics")
		}
		if m.MemoryPercent < 0 || m.MemoryPercent > 100 {
			t.Errorf("Memory percent out of range: %.2f", m.MemoryPercent)
		}
	})
}
