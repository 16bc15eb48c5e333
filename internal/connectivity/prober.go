package connectivity

import (
	"context"
	"time"
)

// Prober drives a Monitor from periodic reachability checks.
//
// Example:
//
//	p := &connectivity.Prober{Monitor: mon, Check: store.Ping, Interval: 15 * time.Second}
//	go p.Run(ctx)
type Prober struct {
	Monitor *Monitor

	// Check returns nil when the remote is reachable.
	Check func(ctx context.Context) error

	// Interval between checks. Defaults to 15s.
	Interval time.Duration

	// Timeout bounds a single check. Defaults to 5s.
	Timeout time.Duration
}

// Run checks immediately, then every Interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	p.ProbeOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce runs a single check and records the result.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.Check(checkCtx)
	if ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the network.
		return p.Monitor.Online()
	}
	if err != nil && p.Monitor.Online() {
		p.Monitor.logger.Printf("WARNING: remote probe failed: %v", err)
	}
	p.Monitor.Set(err == nil)
	return err == nil
}
