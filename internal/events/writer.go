package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the development backend.
const (
	PlanningCreated    = "planning.created"
	TriageUpdated      = "triage.updated"
	ExecutionUpdated   = "execution.updated"
	SupervisionUpdated = "supervision.updated"
	PlanningFinalized  = "planning.finalized"
	EntityPlanning     = "planning"
	EntityReport       = "report"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
