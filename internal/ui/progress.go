package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/trobanga/oaiharvest/internal/models"
)

// ProgressBar wraps the progressbar library. A negative total starts it as
// a spinner until SetTotal learns the real size.
type ProgressBar struct {
	bar       *progressbar.ProgressBar
	total     int64
	current   int64
	startTime time.Time
}

// NewProgressBar creates a progress bar on stderr
// Redraws at most every 500ms
func NewProgressBar(total int64, description string) *ProgressBar {
	return NewProgressBarWithWriter(total, description, os.Stderr)
}

// NewProgressBarWithWriter creates a progress bar that writes to a specific writer
// Useful for testing with mock writers
func NewProgressBarWithWriter(total int64, description string, writer io.Writer) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(500*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
	)

	return &ProgressBar{
		bar:       bar,
		total:     total,
		startTime: time.Now(),
	}
}

// Add increments the progress bar by the given amount
func (p *ProgressBar) Add(amount int64) error {
	p.current += amount
	return p.bar.Add64(amount)
}

// Set sets the progress bar to a specific value
func (p *ProgressBar) Set(value int64) error {
	p.current = value
	return p.bar.Set64(value)
}

// SetTotal changes the expected total
func (p *ProgressBar) SetTotal(total int64) {
	if total == p.total {
		return
	}
	p.total = total
	p.bar.ChangeMax64(total)
}

// Describe replaces the text shown before the bar
func (p *ProgressBar) Describe(description string) {
	p.bar.Describe(description)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	return p.bar.Finish()
}

// Clear clears the progress bar from the terminal
func (p *ProgressBar) Clear() error {
	return p.bar.Clear()
}

// GetPercentage returns current completion percentage (0-100)
func (p *ProgressBar) GetPercentage() float64 {
	if p.total <= 0 {
		return 0
	}
	return (float64(p.current) / float64(p.total)) * 100
}

// GetElapsedTime returns time elapsed since progress bar was created
func (p *ProgressBar) GetElapsedTime() time.Duration {
	return time.Since(p.startTime)
}

// HarvestProgress is a harvest observer that renders a job's progress.
//
// The record count comes from the job (records handed to the sink). The
// total is the sum of the completeListSize values repositories reported;
// until every running harvest reported one, the bar is a spinner.
type HarvestProgress struct {
	mu         sync.Mutex
	bar        *ProgressBar
	eta        *ETACalculator
	throughput *ThroughputCalculator
	records    func() int64
	bytes      func() int64
	listSizes  map[string]int64
	pending    map[string]bool
	pages      int64
}

// NewHarvestProgress creates the observer. records and bytes report the
// job's running totals; bytes may be nil.
func NewHarvestProgress(writer io.Writer, records func() int64, bytes func() int64) *HarvestProgress {
	if bytes == nil {
		bytes = func() int64 { return 0 }
	}
	return &HarvestProgress{
		bar:        NewProgressBarWithWriter(-1, "Harvesting", writer),
		eta:        NewETACalculator(),
		throughput: NewThroughputCalculator(),
		records:    records,
		bytes:      bytes,
		listSizes:  make(map[string]int64),
		pending:    make(map[string]bool),
	}
}

// Notify implements harvester.Observer
func (p *HarvestProgress) Notify(n models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := n.Params.String()
	switch n.Type {
	case models.HarvestStarted:
		p.pending[key] = true
	case models.ResponseProcessed:
		p.pages++
		if n.Token != nil && n.Token.CompleteListSize != nil {
			p.listSizes[key] = *n.Token.CompleteListSize
			delete(p.pending, key)
		}
	case models.HarvestEnded:
		delete(p.pending, key)
	}

	return p.refresh()
}

func (p *HarvestProgress) refresh() error {
	records := p.records()
	p.eta.RecordProgress(records)
	p.throughput.Update(records, p.bytes())

	description := fmt.Sprintf("Harvesting (%d pages)", p.pages)
	if total, ok := p.totalLocked(); ok {
		if total < records {
			total = records
		}
		p.bar.SetTotal(total)
		if eta, valid := p.eta.CalculateETA(total, records); valid {
			description = fmt.Sprintf("Harvesting (%d pages, ETA %s)", p.pages, FormatETA(eta))
		}
	}
	p.bar.Describe(description)
	return p.bar.Set(records)
}

func (p *HarvestProgress) totalLocked() (int64, bool) {
	if len(p.pending) > 0 || len(p.listSizes) == 0 {
		return 0, false
	}
	var total int64
	for _, size := range p.listSizes {
		total += size
	}
	return total, true
}

// Finish renders the final state and completes the bar
func (p *HarvestProgress) Finish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	records := p.records()
	p.throughput.Update(records, p.bytes())
	if err := p.bar.Set(records); err != nil {
		return err
	}
	return p.bar.Finish()
}

// Summary returns the throughput of the whole job
func (p *HarvestProgress) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.throughput.Summary()
}

// Spinner provides visual feedback for operations with unknown duration
type Spinner struct {
	description string
	startTime   time.Time
	active      bool
}

// NewSpinner creates a spinner for unknown-duration operations
func NewSpinner(description string) *Spinner {
	return &Spinner{
		description: description,
		startTime:   time.Now(),
	}
}

// Start prints the description
func (s *Spinner) Start() {
	s.active = true
	s.startTime = time.Now()
	fmt.Printf("%s...\n", s.description)
}

// Stop prints the outcome and elapsed time
func (s *Spinner) Stop(success bool) {
	s.active = false
	elapsed := time.Since(s.startTime)

	if success {
		fmt.Printf("✓ %s (completed in %v)\n", s.description, elapsed.Round(time.Millisecond))
	} else {
		fmt.Printf("✗ %s (failed after %v)\n", s.description, elapsed.Round(time.Millisecond))
	}
}

// IsActive returns whether the spinner is currently running
func (s *Spinner) IsActive() bool {
	return s.active
}
