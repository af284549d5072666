package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/tally/errors"
)

// SystemMetrics is a point-in-time view of host memory
type SystemMetrics struct {
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

const bytesPerGB = 1024 * 1024 * 1024

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a concurrency limit for available memory.
// Each concurrent execution can hold one local model inference (~5GB for a
// 7B model under Ollama); OCR and the HTTP calls themselves are negligible.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerInference = 5.0 // GB per concurrent local inference
	const memoryBuffer = 2.0       // GB reserved for the OCR service and the OS

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerInference)
	if recommended < 1 {
		return 1
	}
	if recommended > 10 {
		return 10
	}
	return recommended
}

// ReadSystemMetrics returns current memory usage, zeroed when unavailable
func ReadSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()
	if err != nil || total == 0 {
		return SystemMetrics{}
	}
	totalGB := float64(total) / bytesPerGB
	usedGB := float64(total-available) / bytesPerGB
	return SystemMetrics{
		MemoryUsedGB:  usedGB,
		MemoryTotalGB: totalGB,
		MemoryPercent: usedGB / totalGB * 100,
	}
}

// checkMemoryPressure validates the concurrency limit against available memory.
// Returns a warning message, or an empty string when the limit looks safe.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}
	return memoryWarning(wp.poolConfig.MaxConcurrent, total, available)
}

func memoryWarning(limit int, total, available uint64) string {
	availableGB := float64(available) / bytesPerGB
	totalGB := float64(total) / bytesPerGB
	recommended := calculateSafeWorkerCount(availableGB)

	if limit == 0 {
		return fmt.Sprintf(
			"Concurrency is unbounded; available memory (%.1f/%.1fGB free) fits about %d local inferences. "+
				"Set pipeline.max_concurrent when running the model locally.",
			availableGB, totalGB, recommended)
	}
	if limit > recommended {
		return fmt.Sprintf(
			"Concurrency limit (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB used). "+
				"Consider lowering pipeline.max_concurrent to prevent memory pressure.",
			limit, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
