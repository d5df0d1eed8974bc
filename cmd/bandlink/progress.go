package main

import (
	"fmt"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a countdown progress line while a scan runs.
//
// The caller must call Stop to release resources and terminate the
// internal goroutine; failing to do so will leak a goroutine. A
// ProgressPrinter is single-use: Start at most once, Stop exactly once.
type ProgressPrinter struct {
	prefix    string
	duration  time.Duration
	startTime time.Time
	stopChan  chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer that counts down from duration.
func NewProgressPrinter(prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		prefix:   prefix,
		duration: duration,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins printing. Returns immediately.
func (p *ProgressPrinter) Start() {
	p.startTime = time.Now()
	go p.run()
}

func (p *ProgressPrinter) run() {
	defer close(p.done)
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopChan:
			fmt.Print(clearLineSequence)
			return
		case <-ticker.C:
			remaining := p.duration - time.Since(p.startTime)
			if remaining < 0 {
				remaining = 0
			}
			fmt.Printf("%s%s %.1fs remaining", clearLineSequence, p.prefix, remaining.Seconds())
		}
	}
}

// Stop clears the progress line and waits for the goroutine to exit.
func (p *ProgressPrinter) Stop() {
	close(p.stopChan)
	<-p.done
}
