package reaper

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rangerd/pkg/bus"
	"rangerd/services/dhcpd/internal/engine"
	"rangerd/services/dhcpd/internal/store"
)

// DefaultInterval is how often overdue leases are swept when the caller
// does not pick a cadence.
const DefaultInterval = time.Minute

var leasesExpired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rangerd_expired_leases_total",
	Help: "Leases retired by the background sweep.",
})

// Store is the slice of the lease store the reaper needs.
type Store interface {
	ExpireOverdueLeases(ctx context.Context) ([]store.Lease, error)
}

// Reaper periodically deactivates leases whose window has passed and
// publishes an expired event for each one.
type Reaper struct {
	store    Store
	bus      *bus.Bus
	logger   *log.Logger
	interval time.Duration
}

func New(st Store, b *bus.Bus, logger *log.Logger, interval time.Duration) *Reaper {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{store: st, bus: b, logger: logger, interval: interval}
}

// Run sweeps on a fixed cadence until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	expired, err := r.store.ExpireOverdueLeases(ctx)
	if err != nil {
		r.logger.Printf("ERROR expire overdue leases: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}
	leasesExpired.Add(float64(len(expired)))
	r.logger.Printf("INFO retired %d overdue leases", len(expired))

	if r.bus == nil {
		return
	}
	for i := range expired {
		if err := r.bus.Publish(ctx, engine.SubjectLeaseExpired, engine.NewLeaseEvent(&expired[i])); err != nil {
			r.logger.Printf("WARN publish %s: %v", engine.SubjectLeaseExpired, err)
		}
	}
}
