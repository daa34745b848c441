package ui

import (
	"fmt"
	"time"
)

// counter is a running total with the rate seen between its last two samples
type counter struct {
	total   int64
	instant float64
}

func (c *counter) sample(total int64, interval float64) {
	if interval > 0 {
		c.instant = float64(total-c.total) / interval
	}
	c.total = total
}

func (c counter) average(elapsed float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(c.total) / elapsed
}

// ThroughputCalculator tracks harvested records and downloaded response
// bytes over the lifetime of a job
type ThroughputCalculator struct {
	now     func() time.Time
	started time.Time
	sampled time.Time
	records counter
	bytes   counter
}

// NewThroughputCalculator creates a calculator starting now
func NewThroughputCalculator() *ThroughputCalculator {
	t := &ThroughputCalculator{now: time.Now}
	t.Reset()
	return t
}

// Update takes the current record and byte totals
func (t *ThroughputCalculator) Update(records int64, bytes int64) {
	now := t.now()
	interval := now.Sub(t.sampled).Seconds()
	t.records.sample(records, interval)
	t.bytes.sample(bytes, interval)
	t.sampled = now
}

func (t *ThroughputCalculator) elapsed() float64 {
	return t.now().Sub(t.started).Seconds()
}

// GetAverageItemsPerSecond returns records per second since the start
func (t *ThroughputCalculator) GetAverageItemsPerSecond() float64 {
	return t.records.average(t.elapsed())
}

// GetAverageBytesPerSecond returns response bytes per second since the start
func (t *ThroughputCalculator) GetAverageBytesPerSecond() float64 {
	return t.bytes.average(t.elapsed())
}

// GetInstantItemsPerSecond returns the record rate between the last two updates
func (t *ThroughputCalculator) GetInstantItemsPerSecond() float64 {
	return t.records.instant
}

// GetInstantBytesPerSecond returns the byte rate between the last two updates
func (t *ThroughputCalculator) GetInstantBytesPerSecond() float64 {
	return t.bytes.instant
}

// GetElapsedTime returns time since the calculator was created or reset
func (t *ThroughputCalculator) GetElapsedTime() time.Duration {
	return t.now().Sub(t.started)
}

// Reset clears all totals and restarts the clock
func (t *ThroughputCalculator) Reset() {
	now := t.now()
	t.started = now
	t.sampled = now
	t.records = counter{}
	t.bytes = counter{}
}

// Summary renders totals and average rates for the end-of-job report
func (t *ThroughputCalculator) Summary() string {
	return fmt.Sprintf(
		"%d records (%s downloaded) in %s | Avg: %s, %s",
		t.records.total,
		FormatBytes(t.bytes.total),
		FormatDuration(t.GetElapsedTime()),
		FormatItemsPerSecond(t.GetAverageItemsPerSecond()),
		FormatBytesPerSecond(t.GetAverageBytesPerSecond()),
	)
}

// FormatItemsPerSecond formats a record rate, e.g. "2.30 records/sec"
func FormatItemsPerSecond(itemsPerSec float64) string {
	if itemsPerSec < 0.01 {
		return "< 0.01 records/sec"
	}
	return fmt.Sprintf("%.2f records/sec", itemsPerSec)
}

// FormatBytesPerSecond formats a download rate, e.g. "5.20 MB/sec"
func FormatBytesPerSecond(bytesPerSec float64) string {
	return scaleBytes(bytesPerSec) + "/sec"
}

// FormatBytes formats a byte count, e.g. "1.50 KB"
func FormatBytes(bytes int64) string {
	return scaleBytes(float64(bytes))
}

var byteUnits = []string{"TB", "GB", "MB", "KB"}

func scaleBytes(n float64) string {
	for i, unit := range byteUnits {
		size := float64(int64(1) << (10 * (len(byteUnits) - i)))
		if n >= size {
			return fmt.Sprintf("%.2f %s", n/size, unit)
		}
	}
	return fmt.Sprintf("%.0f B", n)
}
