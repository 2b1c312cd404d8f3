// Package versioning owns knowledge graph version assignment. The Manager
// is the only component permitted to mint version numbers; every mutating
// operation on the triple store obtains its version here.
package versioning

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tracelight/kgraph/errors"
)

// Stamp is a minted version: a per-tenant monotonically increasing integer
// plus the wall-clock timestamp it was assigned at.
type Stamp struct {
	Version   int64
	Timestamp time.Time
}

// Snapshot identifies a point-in-time view of a tenant's graph, usable by
// the triple store to filter version records.
type Snapshot struct {
	Version   int64
	Timestamp time.Time
}

// Manager assigns per-tenant version numbers, serialized per tenant so that
// no reader can observe version N before version N-1 commits. Counters are
// persisted to graph_version_log so assignment survives restarts.
type Manager struct {
	db     *sql.DB
	logger *zap.SugaredLogger

	mu       sync.Mutex
	counters map[string]*tenantCounter
}

type tenantCounter struct {
	mu      sync.Mutex
	current int64
	loaded  bool
}

// NewManager creates a versioning manager backed by the given database.
func NewManager(db *sql.DB, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		db:       db,
		logger:   logger.Named("versioning"),
		counters: make(map[string]*tenantCounter),
	}
}

// counter returns the per-tenant counter, creating it on first use.
func (m *Manager) counter(tenantID string) *tenantCounter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[tenantID]
	if !ok {
		c = &tenantCounter{}
		m.counters[tenantID] = c
	}
	return c
}

// NextVersion atomically assigns the next version number for the tenant.
// The counter lock is held across the log insert, so versions become
// visible in assignment order.
func (m *Manager) NextVersion(ctx context.Context, tenantID string) (Stamp, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return Stamp{}, err
	}

	c := m.counter(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		if err := m.loadCounterLocked(ctx, tenantID, c); err != nil {
			return Stamp{}, err
		}
	}

	next := c.current + 1
	now := time.Now().UTC()

	_, err := m.db.ExecContext(ctx,
		"INSERT INTO graph_version_log (tenant_id, version, created_at) VALUES (?, ?, ?)",
		tenantID, next, now,
	)
	if err != nil {
		return Stamp{}, errors.Wrapf(err, "record version %d for tenant %s", next, tenantID)
	}

	c.current = next
	return Stamp{Version: next, Timestamp: now}, nil
}

// loadCounterLocked seeds the in-memory counter from the persisted log.
// Caller must hold c.mu.
func (m *Manager) loadCounterLocked(ctx context.Context, tenantID string, c *tenantCounter) error {
	var current sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		"SELECT MAX(version) FROM graph_version_log WHERE tenant_id = ?",
		tenantID,
	).Scan(&current)
	if err != nil {
		return errors.Wrapf(err, "load version counter for tenant %s", tenantID)
	}
	if current.Valid {
		c.current = current.Int64
	}
	c.loaded = true
	return nil
}

// CurrentVersion returns the latest version assigned to the tenant, or 0 if
// no mutation has been recorded.
func (m *Manager) CurrentVersion(ctx context.Context, tenantID string) (int64, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return 0, err
	}

	c := m.counter(tenantID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		if err := m.loadCounterLocked(ctx, tenantID, c); err != nil {
			return 0, err
		}
	}
	return c.current, nil
}

// SnapshotAtVersion resolves a snapshot for an explicit version number.
// Version 0 is the empty graph; versions beyond the current counter are
// rejected.
func (m *Manager) SnapshotAtVersion(ctx context.Context, tenantID string, version int64) (Snapshot, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return Snapshot{}, err
	}
	if version < 0 {
		return Snapshot{}, errors.NewValidationError("version must be non-negative, got %d", version)
	}
	if version == 0 {
		return Snapshot{Version: 0}, nil
	}

	var ts time.Time
	err := m.db.QueryRowContext(ctx,
		"SELECT created_at FROM graph_version_log WHERE tenant_id = ? AND version = ?",
		tenantID, version,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return Snapshot{}, errors.NewNotFoundError("version %d for tenant %s", version, tenantID)
	}
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "resolve version %d for tenant %s", version, tenantID)
	}
	return Snapshot{Version: version, Timestamp: ts}, nil
}

// SnapshotAtTime resolves the latest version assigned at or before the
// given instant. An instant before the first version yields the empty
// graph (version 0).
func (m *Manager) SnapshotAtTime(ctx context.Context, tenantID string, at time.Time) (Snapshot, error) {
	if err := errors.RequireTenant(tenantID); err != nil {
		return Snapshot{}, err
	}

	var version sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		"SELECT MAX(version) FROM graph_version_log WHERE tenant_id = ? AND created_at <= ?",
		tenantID, at.UTC(),
	).Scan(&version)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "resolve snapshot at %s for tenant %s", at, tenantID)
	}
	if !version.Valid {
		return Snapshot{Version: 0, Timestamp: at}, nil
	}
	return Snapshot{Version: version.Int64, Timestamp: at}, nil
}
