package progress

import (
	"fmt"
	"time"
)

// Display periodically prints a status snapshot. It polls through a
// function so it works against any snapshot source without coupling to the
// engine.
type Display struct {
	snapshot func() Status
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a display polling snapshot at the given interval.
func NewDisplay(snapshot func() Status, interval time.Duration) *Display {
	return &Display{
		snapshot: snapshot,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins printing in the background.
func (d *Display) Start() {
	go d.loop()
}

// Stop prints a final line and stops the display.
func (d *Display) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

func (d *Display) loop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.print(d.snapshot())
		case <-d.stopCh:
			d.print(d.snapshot())
			return
		}
	}
}

func (d *Display) print(s Status) {
	line := fmt.Sprintf("[%s] %d/%d objects  %s/%s",
		s.State,
		s.ProcessedObjects, s.TotalObjects,
		FormatBytes(s.ProcessedBytes), FormatBytes(s.TotalBytes),
	)
	if s.AverageSpeed > 0 {
		line += fmt.Sprintf("  %s/s", FormatBytes(int64(s.AverageSpeed)))
	}
	if s.ETA > 0 {
		line += fmt.Sprintf("  ETA %s", s.ETA.Round(time.Second))
	}
	fmt.Println(line)
}
