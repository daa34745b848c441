package ui_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/oaiharvest/internal/ui"
)

// fakeClock returns a clock that advances by step on every call
func fakeClock(step time.Duration) func() time.Time {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func TestETACalculator_InsufficientData(t *testing.T) {
	calc := ui.NewETACalculatorCustom(10, 30*time.Second, fakeClock(time.Second))

	eta, valid := calc.CalculateETA(100, 0)
	assert.False(t, valid, "ETA should be invalid with no samples")
	assert.Equal(t, time.Duration(0), eta)

	calc.RecordProgress(10)
	_, valid = calc.CalculateETA(100, 10)
	assert.False(t, valid, "ETA should be invalid with only one sample")
}

func TestETACalculator_Estimate(t *testing.T) {
	calc := ui.NewETACalculatorCustom(10, 30*time.Second, fakeClock(time.Second))

	// 10 records per second
	calc.RecordProgress(0)
	calc.RecordProgress(10)
	calc.RecordProgress(20)

	eta, valid := calc.CalculateETA(100, 20)
	assert.True(t, valid)
	assert.InDelta(t, 8.0, eta.Seconds(), 0.001)

	rate, valid := calc.GetThroughput()
	assert.True(t, valid)
	assert.InDelta(t, 10.0, rate, 0.001)
}

func TestETACalculator_Complete(t *testing.T) {
	calc := ui.NewETACalculatorCustom(10, 30*time.Second, fakeClock(time.Second))
	calc.RecordProgress(50)
	calc.RecordProgress(100)

	eta, valid := calc.CalculateETA(100, 100)
	assert.True(t, valid)
	assert.Equal(t, time.Duration(0), eta, "ETA should be 0 when the list is done")
}

func TestETACalculator_NoProgress(t *testing.T) {
	calc := ui.NewETACalculatorCustom(10, 30*time.Second, fakeClock(time.Second))
	calc.RecordProgress(5)
	calc.RecordProgress(5)

	_, valid := calc.CalculateETA(100, 5)
	assert.False(t, valid, "a stalled harvest has no ETA")
}

func TestETACalculator_SampleWindow(t *testing.T) {
	calc := ui.NewETACalculatorCustom(3, time.Hour, fakeClock(time.Second))

	// Slow start, then 100 records per second; only the last 3 samples count
	calc.RecordProgress(0)
	calc.RecordProgress(1)
	calc.RecordProgress(101)
	calc.RecordProgress(201)

	rate, valid := calc.GetThroughput()
	assert.True(t, valid)
	assert.InDelta(t, 100.0, rate, 0.001)

	calc.Reset()
	_, valid = calc.GetThroughput()
	assert.False(t, valid)
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		eta  time.Duration
		want string
	}{
		{500 * time.Millisecond, "< 1s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ui.FormatETA(tt.eta))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", ui.FormatDuration(250*time.Millisecond))
	assert.Equal(t, "3s", ui.FormatDuration(2600*time.Millisecond))
}
