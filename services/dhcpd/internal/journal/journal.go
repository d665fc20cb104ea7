package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"rangerd/pkg/bus"
	"rangerd/pkg/db"
)

const (
	leaseSubjects = "rangerd.leases.>"
	durableName   = "lease-journal"
	subjectPrefix = "rangerd.leases."
)

type leaseEvent struct {
	LeaseID    uuid.UUID `json:"lease_id"`
	SubnetID   uuid.UUID `json:"subnet_id"`
	MAC        string    `json:"mac"`
	Address    string    `json:"address"`
	LeaseStart time.Time `json:"lease_start"`
	LeaseEnd   time.Time `json:"lease_end"`
}

// Journal consumes lease lifecycle events from NATS and appends them to the
// lease_events table, keeping a history that survives lease row reuse.
type Journal struct {
	pool *pgxpool.Pool
	bus  *bus.Bus

	subMu sync.Mutex
	sub   io.Closer
}

// New constructs a Journal for the provided dependencies.
func New(pool *pgxpool.Pool, b *bus.Bus) (*Journal, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if b == nil {
		return nil, errors.New("bus is required")
	}
	return &Journal{pool: pool, bus: b}, nil
}

// Start subscribes to the lease subjects and records events until ctx is
// cancelled.
func (j *Journal) Start(ctx context.Context) error {
	if j == nil {
		return errors.New("nil journal")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	handler := func(msgCtx context.Context, subject string, data []byte) error {
		return j.record(msgCtx, subject, data)
	}

	sub, err := j.bus.Subscribe(ctx, leaseSubjects, durableName, handler)
	if err != nil {
		return err
	}

	j.subMu.Lock()
	j.sub = sub
	j.subMu.Unlock()

	return nil
}

// Close stops the underlying subscription if it was created.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}

	j.subMu.Lock()
	defer j.subMu.Unlock()

	if j.sub == nil {
		return nil
	}
	err := j.sub.Close()
	j.sub = nil
	return err
}

func (j *Journal) record(ctx context.Context, subject string, data []byte) error {
	kind, err := eventKind(subject)
	if err != nil {
		return err
	}

	var evt leaseEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.LeaseID == uuid.Nil {
		return errors.New("lease_id missing from event")
	}
	if evt.MAC == "" {
		return errors.New("mac missing from event")
	}

	// The raw payload goes into details so fields added later are kept.
	_, err = db.Exec(ctx, j.pool, `
INSERT INTO lease_events (id, event, mac_address, address, subnet_id, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
`, uuid.New(), kind, evt.MAC, evt.Address, evt.SubnetID, data, time.Now().UTC())
	return err
}

func eventKind(subject string) (string, error) {
	kind := strings.TrimPrefix(subject, subjectPrefix)
	if kind == "" || kind == subject || strings.Contains(kind, ".") {
		return "", fmt.Errorf("unexpected lease subject %q", subject)
	}
	return kind, nil
}
