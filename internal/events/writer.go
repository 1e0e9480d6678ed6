// Package events keeps the durable notification log.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dealflow/internal/db"
	"dealflow/internal/domain"
)

type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

// Append records a notification. The full notification is kept as payload so
// webhook consumers receive every field.
func (w Writer) Append(ctx context.Context, n domain.Notification) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := n.At
	if ts == "" {
		ts = w.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO notifications(uid,ts,kind,severity,message,icon,deal_id,payload_json) VALUES (?,?,?,?,?,?,?,?)`),
		n.ID, ts, n.Kind, string(n.Severity), n.Message, nullable(n.Icon), nullable(n.DealID), string(data))
	return err
}

// Observe lets the writer sit in a notification sink's observer list.
func (w Writer) Observe(ctx context.Context, n domain.Notification) error {
	return w.Append(ctx, n)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
