package device

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// Repository records device sightings. Implementations must not call back
// into the Registry.
type Repository interface {
	// RecordDiscovery is called once per discovery of a device.
	RecordDiscovery(info Info)

	// RecordActivation is called when the device receives its runtime index.
	RecordActivation(info Info)
}

// KnownDevice is a persisted device sighting.
type KnownDevice struct {
	Serial         string           `json:"serial"`
	Class          host.DeviceClass `json:"-"`
	OriginalClass  host.DeviceClass `json:"-"`
	ClassName      string           `json:"class"`
	OriginalName   string           `json:"original_class"`
	LastIndex      *uint32          `json:"last_index,omitempty"`
	DiscoveryCount int              `json:"discovery_count"`
	FirstSeen      time.Time        `json:"first_seen"`
	LastSeen       time.Time        `json:"last_seen"`
}

// SQLiteRepository records device sightings in the devices table.
//
// Thread Safety: All methods are safe for concurrent use.
type SQLiteRepository struct {
	db     *sql.DB
	logger Logger

	discoveryStmt  *sql.Stmt
	activationStmt *sql.Stmt
	stmtMu         sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger for the repository.
func (r *SQLiteRepository) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statements. Must be called before recording.
func (r *SQLiteRepository) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.discoveryStmt != nil {
		return nil
	}

	discovery, err := r.db.Prepare(`
		INSERT INTO devices (serial, device_class, original_class, discovery_count, first_seen, last_seen)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			device_class = excluded.device_class,
			original_class = excluded.original_class,
			discovery_count = discovery_count + 1,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("preparing discovery upsert: %w", err)
	}

	activation, err := r.db.Prepare(`
		UPDATE devices SET last_index = ?, last_seen = ? WHERE serial = ?
	`)
	if err != nil {
		discovery.Close()
		return fmt.Errorf("preparing activation update: %w", err)
	}

	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()

	r.discoveryStmt = discovery
	r.activationStmt = activation
	r.logger.Info("device repository started")
	return nil
}

// Stop releases the prepared statements. Records after Stop are dropped.
func (r *SQLiteRepository) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.discoveryStmt != nil {
		r.discoveryStmt.Close()
		r.discoveryStmt = nil
	}
	if r.activationStmt != nil {
		r.activationStmt.Close()
		r.activationStmt = nil
	}
}

func (r *SQLiteRepository) statements() (*sql.Stmt, *sql.Stmt, bool) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, nil, false
	}

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	if r.discoveryStmt == nil {
		return nil, nil, false
	}
	return r.discoveryStmt, r.activationStmt, true
}

// RecordDiscovery implements Repository.
func (r *SQLiteRepository) RecordDiscovery(info Info) {
	stmt, _, ok := r.statements()
	if !ok {
		return
	}
	now := info.DiscoveredAt.UTC().Format(time.RFC3339Nano)
	if _, err := stmt.Exec(info.Serial, info.Class.String(), info.OriginalClass.String(), now, now); err != nil {
		r.logger.Error("recording device discovery", "serial", info.Serial, "error", err)
	}
}

// RecordActivation implements Repository.
func (r *SQLiteRepository) RecordActivation(info Info) {
	_, stmt, ok := r.statements()
	if !ok {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := stmt.Exec(int64(info.Index), now, info.Serial); err != nil {
		r.logger.Error("recording device activation", "serial", info.Serial, "error", err)
	}
}

// List returns every recorded device, most recently seen first.
func (r *SQLiteRepository) List(ctx context.Context) ([]KnownDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT serial, device_class, original_class, last_index, discovery_count, first_seen, last_seen
		FROM devices
		ORDER BY last_seen DESC, serial ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var out []KnownDevice
	for rows.Next() {
		var (
			d                   KnownDevice
			lastIndex           sql.NullInt64
			firstSeen, lastSeen string
		)
		if err := rows.Scan(&d.Serial, &d.ClassName, &d.OriginalName, &lastIndex, &d.DiscoveryCount, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.Class, _ = host.ParseDeviceClass(d.ClassName)
		d.OriginalClass, _ = host.ParseDeviceClass(d.OriginalName)
		if lastIndex.Valid {
			idx := uint32(lastIndex.Int64)
			d.LastIndex = &idx
		}
		d.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
		d.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Count returns the number of recorded devices.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&count)
	return count, err
}
