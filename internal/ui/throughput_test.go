package ui_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/oaiharvest/internal/ui"
)

func TestThroughputCalculator(t *testing.T) {
	calc := ui.NewThroughputCalculator()

	time.Sleep(20 * time.Millisecond)
	calc.Update(100, 4096)

	assert.Greater(t, calc.GetAverageItemsPerSecond(), 0.0)
	assert.Greater(t, calc.GetAverageBytesPerSecond(), 0.0)
	assert.Greater(t, calc.GetInstantItemsPerSecond(), 0.0)
	assert.Contains(t, calc.Summary(), "100 records (4.00 KB downloaded)")

	calc.Reset()
	assert.Equal(t, 0.0, calc.GetInstantItemsPerSecond())
	assert.Contains(t, calc.Summary(), "0 records")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", ui.FormatBytes(512))
	assert.Equal(t, "1.50 KB", ui.FormatBytes(1536))
	assert.Equal(t, "2.00 MB", ui.FormatBytes(2*1024*1024))
	assert.Equal(t, "1.00 GB", ui.FormatBytes(1024*1024*1024))
}

func TestFormatRates(t *testing.T) {
	assert.Equal(t, "< 0.01 records/sec", ui.FormatItemsPerSecond(0.001))
	assert.Equal(t, "2.30 records/sec", ui.FormatItemsPerSecond(2.3))
	assert.Equal(t, "900 B/sec", ui.FormatBytesPerSecond(900))
	assert.Equal(t, "5.00 MB/sec", ui.FormatBytesPerSecond(5*1024*1024))
}
