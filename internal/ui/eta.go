package ui

import (
	"fmt"
	"time"
)

// ETACalculator estimates the rest of a harvest from the record rate over a
// sliding window of recent samples. The window holds at most maxSamples
// samples, none older than maxAge relative to the newest one.
type ETACalculator struct {
	window     []progressSample
	maxSamples int
	maxAge     time.Duration
	now        func() time.Time
}

type progressSample struct {
	at      time.Time
	records int64
}

// NewETACalculator keeps 10 samples over at most 30 seconds
func NewETACalculator() *ETACalculator {
	return NewETACalculatorCustom(10, 30*time.Second, time.Now)
}

// NewETACalculatorCustom creates an ETA calculator with its own window and clock
func NewETACalculatorCustom(maxSamples int, maxAge time.Duration, now func() time.Time) *ETACalculator {
	if now == nil {
		now = time.Now
	}
	if maxSamples < 2 {
		maxSamples = 2
	}
	return &ETACalculator{
		maxSamples: maxSamples,
		maxAge:     maxAge,
		now:        now,
	}
}

// RecordProgress adds the number of records harvested so far
func (e *ETACalculator) RecordProgress(records int64) {
	at := e.now()
	e.window = append(e.window, progressSample{at: at, records: records})

	drop := max(len(e.window)-e.maxSamples, 0)
	cutoff := at.Add(-e.maxAge)
	for drop < len(e.window)-1 && e.window[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		e.window = append(e.window[:0], e.window[drop:]...)
	}
}

// rate returns records per second across the window
func (e *ETACalculator) rate() (float64, bool) {
	if len(e.window) < 2 {
		return 0, false
	}
	first, last := e.window[0], e.window[len(e.window)-1]
	seconds := last.at.Sub(first.at).Seconds()
	delta := last.records - first.records
	if delta <= 0 || seconds <= 0 {
		return 0, false
	}
	return float64(delta) / seconds, true
}

// CalculateETA estimates the time until current reaches total. It is only
// valid with at least two samples that show progress.
func (e *ETACalculator) CalculateETA(total int64, current int64) (time.Duration, bool) {
	if len(e.window) < 2 {
		return 0, false
	}
	if current >= total {
		return 0, true
	}
	perSecond, ok := e.rate()
	if !ok {
		return 0, false
	}
	return time.Duration(float64(total-current) / perSecond * float64(time.Second)), true
}

// GetThroughput returns the recent record rate per second
func (e *ETACalculator) GetThroughput() (float64, bool) {
	return e.rate()
}

// Reset clears all recorded samples
func (e *ETACalculator) Reset() {
	e.window = e.window[:0]
}

// FormatETA renders an ETA as "42s", "3m5s" or "2h15m"
func FormatETA(eta time.Duration) string {
	switch {
	case eta < time.Second:
		return "< 1s"
	case eta < time.Minute:
		return eta.Round(time.Second).String()
	case eta < time.Hour:
		return fmt.Sprintf("%dm%ds", int(eta.Minutes()), int(eta.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%dm", int(eta.Hours()), int(eta.Minutes())%60)
	}
}

// FormatDuration rounds to milliseconds below a second and to seconds above
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
