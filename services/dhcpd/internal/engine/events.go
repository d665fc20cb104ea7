package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rangerd/services/dhcpd/internal/store"
)

// Lease lifecycle subjects. The journal consumer subscribes to
// "rangerd.leases.>" and sees all of them.
const (
	SubjectLeaseOffered  = "rangerd.leases.offered"
	SubjectLeaseAcked    = "rangerd.leases.acked"
	SubjectLeaseReleased = "rangerd.leases.released"
	SubjectLeaseDeclined = "rangerd.leases.declined"
	SubjectLeaseExpired  = "rangerd.leases.expired"
)

// LeaseEvent is the JSON payload published on the lease subjects.
type LeaseEvent struct {
	LeaseID    uuid.UUID `json:"lease_id"`
	SubnetID   uuid.UUID `json:"subnet_id"`
	MAC        string    `json:"mac"`
	Address    string    `json:"address"`
	LeaseStart time.Time `json:"lease_start"`
	LeaseEnd   time.Time `json:"lease_end"`
	Hostname   string    `json:"hostname,omitempty"`
}

func NewLeaseEvent(lease *store.Lease) LeaseEvent {
	return LeaseEvent{
		LeaseID:    lease.ID,
		SubnetID:   lease.SubnetID,
		MAC:        lease.MAC.String(),
		Address:    lease.Address.String(),
		LeaseStart: lease.LeaseStart,
		LeaseEnd:   lease.LeaseEnd,
		Hostname:   lease.Hostname,
	}
}

func (e *Engine) publishLease(ctx context.Context, subject string, lease *store.Lease) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, subject, NewLeaseEvent(lease)); err != nil {
		e.logger.Printf("WARN publish %s: %v", subject, err)
	}
}
