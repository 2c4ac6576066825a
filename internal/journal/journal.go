// Package journal records device lifecycle events in the SQLite journal:
// connects, disconnects, initialisation warnings, command failures and
// capture session deaths. The journal is the post-incident record of what
// the hardware did; live telemetry goes out over MQTT instead.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event kinds.
const (
	KindConnect       = "connect"
	KindDisconnect    = "disconnect"
	KindInitWarning   = "init_warning"
	KindCommandFailed = "command_failed"
	KindCaptureDead   = "capture_dead"
)

// Pagination bounds for List.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Event is one journal entry.
type Event struct {
	ID        string         `json:"id"`
	Device    string         `json:"device"`
	Kind      string         `json:"kind"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which events List returns.
type Filter struct {
	Device string // optional: filter by device name
	Kind   string // optional: filter by event kind
	Limit  int    // default 50, max 200
	Offset int    // pagination offset
}

// Recorder defines the journal operations.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// SQLiteRecorder persists events in the device_events table.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder creates a recorder on an open journal database.
func NewSQLiteRecorder(db *sql.DB) *SQLiteRecorder {
	return &SQLiteRecorder{db: db}
}

// Record inserts one event, generating its ID and timestamp when unset.
func (r *SQLiteRecorder) Record(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = "evt-" + uuid.NewString()[:8]
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var detailJSON any
	if event.Detail != nil {
		b, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("marshalling event detail: %w", err)
		}
		detailJSON = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_events (id, device, kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.Device, event.Kind, detailJSON,
		event.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

// List returns events matching the filter, newest first.
func (r *SQLiteRecorder) List(ctx context.Context, filter Filter) ([]Event, error) {
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
	if filter.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, filter.Device)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT id, device, kind, detail, created_at FROM device_events
		 %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, where)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var detail sql.NullString
		var createdAt string

		if err := rows.Scan(&e.ID, &e.Device, &e.Kind, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}

		if detail.Valid && detail.String != "" {
			var m map[string]any
			if json.Unmarshal([]byte(detail.String), &m) == nil {
				e.Detail = m
			}
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}

	return events, nil
}
