package allocation

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically expires unredeemed claims on events that have
// ended.  It models unclaimed-food expiry: once an event's end time
// has passed, open claims against its portion pools are released back
// to the pool as EXPIRED.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper returns a sweeper driving the given engine.  A
// non-positive interval falls back to one minute.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{engine: engine, interval: interval}
}

// Run blocks, sweeping once immediately and then on every tick until
// the context is cancelled.  Sweep errors are logged and do not stop
// the loop; the next tick retries.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.engine.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("claim-sweeper: sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("claim-sweeper: expired %d claim(s)", n)
	}
}
