package async

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateSafeWorkerCount(t *testing.T) {
	tests := []struct {
		availableGB float64
		want        int
	}{
		{0.5, 1},
		{2, 1},
		{6.9, 1},
		{12, 2},
		{32, 6},
		{128, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calculateSafeWorkerCount(tt.availableGB), "available %.1fGB", tt.availableGB)
	}
}

func TestMemoryWarning(t *testing.T) {
	const gb = bytesPerGB

	assert.Empty(t, memoryWarning(2, 16*gb, 12*gb))
	assert.Contains(t, memoryWarning(8, 16*gb, 12*gb), "exceeds recommended (2)")
	assert.Contains(t, memoryWarning(0, 16*gb, 12*gb), "unbounded")
}
