package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealflow/internal/db"
	"dealflow/internal/domain"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("version conflict")
)

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

// LoadPipeline returns the stored deals and version for key.
func (r Repo) LoadPipeline(ctx context.Context, key string) ([]domain.Deal, int64, error) {
	var raw string
	var version int64
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT deals_json, version FROM pipelines WHERE key=?`), key).Scan(&raw, &version)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	var deals []domain.Deal
	if err := json.Unmarshal([]byte(raw), &deals); err != nil {
		return nil, 0, fmt.Errorf("decode pipeline %s: %w", key, err)
	}
	return deals, version, nil
}

// SavePipeline stores the full deal collection as version, provided the stored
// version is still prev. prev 0 inserts a new row. A stale prev yields ErrConflict.
func (r Repo) SavePipeline(ctx context.Context, key string, deals []domain.Deal, prev, version int64) error {
	if deals == nil {
		deals = []domain.Deal{}
	}
	data, err := json.Marshal(deals)
	if err != nil {
		return fmt.Errorf("encode pipeline %s: %w", key, err)
	}
	now := r.now().UTC().Format(time.RFC3339)
	var res sql.Result
	if prev == 0 {
		res, err = r.DB.ExecContext(ctx, r.q(`INSERT INTO pipelines(key,deals_json,version,updated_at) VALUES (?,?,?,?)
ON CONFLICT(key) DO NOTHING`), key, string(data), version, now)
	} else {
		res, err = r.DB.ExecContext(ctx, r.q(`UPDATE pipelines SET deals_json=?, version=?, updated_at=? WHERE key=? AND version=?`),
			string(data), version, now, key, prev)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("save pipeline %s at version %d: %w", key, prev, ErrConflict)
	}
	return nil
}

// PipelineVersion returns the stored version for key.
func (r Repo) PipelineVersion(ctx context.Context, key string) (int64, error) {
	var version int64
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT version FROM pipelines WHERE key=?`), key).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return version, err
}

const eventColumns = `id,uid,ts,kind,severity,message,COALESCE(icon,''),COALESCE(deal_id,''),payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var severity, payload string
		if err := rows.Scan(&e.Seq, &e.ID, &e.At, &e.Kind, &severity, &e.Message, &e.Icon, &e.DealID, &payload); err != nil {
			return nil, err
		}
		e.Severity = domain.Severity(severity)
		var full domain.Notification
		if json.Unmarshal([]byte(payload), &full) == nil {
			e.Celebrate = full.Celebrate
			e.ExpiresAt = full.ExpiresAt
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns notifications newest first, starting below cursor when cursor > 0.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, kind string) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM notifications WHERE 1=1`
	var args []any
	if cursor > 0 {
		query += ` AND id < ?`
		args = append(args, cursor)
	}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns notifications with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+eventColumns+` FROM notifications WHERE id > ? ORDER BY id ASC LIMIT ?`), cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent notification ID, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM notifications`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
