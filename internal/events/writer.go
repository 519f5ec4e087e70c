package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type Writer struct {
	DB *sql.DB
}

type EventPayload map[string]any

// Append writes an audit event inside the caller's transaction so the event
// commits or rolls back with the state change it records. The caller supplies
// ts so the event carries the same timestamp as the rows it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, ts, evtType, userID, entityKind, entityID string, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,user_id,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, userID, entityKind, entityID, string(data))
	return err
}
