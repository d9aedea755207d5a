package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the driver's control handler.
const (
	ActionDeviceMode       = "device_mode"
	ActionMotionReference  = "motion_reference"
	ActionMotionMode       = "motion_mode"
	ActionWindow           = "motion_window"
	ActionProcessNoise     = "motion_process_noise"
	ActionObservationNoise = "motion_observation_noise"
	ActionResetZero        = "motion_reset_zero"
)

// SourceControlChannel marks entries created from IPC requests.
const SourceControlChannel = "ipc"

const (
	defaultListLimit = 50
	maxListLimit     = 200

	// Fixed width so created_at sorts as text.
	timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one recorded change.
type Entry struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	DeviceIndex *uint32        `json:"device_index,omitempty"`
	Source      string         `json:"source"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action      string  // optional
	DeviceIndex *uint32 // optional
	Limit       int     // default 50, max 200
	Offset      int
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and lists entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e. ID, Source and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "ctl-" + uuid.NewString()[:8]
	}
	if e.Source == "" {
		e.Source = SourceControlChannel
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details *string
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling control log details: %w", err)
		}
		s := string(b)
		details = &s
	}

	var index any
	if e.DeviceIndex != nil {
		index = int64(*e.DeviceIndex)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO control_log (id, action, device_index, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, index, e.Source, details, e.CreatedAt.UTC().Format(timestampFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting control log entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, most recent first.
//
// Parameters:
//   - ctx: Context for cancellation
//   - filter: Action and device filters plus paging; limits are clamped
//
// Returns:
//   - *ListResult: Matching page and the total count before paging
//   - error: If a query fails
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.DeviceIndex != nil {
		conditions = append(conditions, "device_index = ?")
		args = append(args, int64(*filter.DeviceIndex))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM control_log " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting control log entries: %w", err)
	}

	query := "SELECT id, action, device_index, source, details, created_at FROM control_log " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying control log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var index sql.NullInt64
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Action, &index, &e.Source, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning control log entry: %w", err)
		}
		if index.Valid {
			v := uint32(index.Int64) //nolint:gosec // stored from a uint32
			e.DeviceIndex = &v
		}
		if details.Valid && details.String != "" {
			var m map[string]any
			if json.Unmarshal([]byte(details.String), &m) == nil {
				e.Details = m
			}
		}
		t, err := time.Parse(timestampFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing control log timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating control log: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
