package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const traceSchema = `
CREATE TABLE IF NOT EXISTS traces (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	node       TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS traces_run_id ON traces(run_id);
`

// TraceRow is one persisted event.
type TraceRow struct {
	ID        string    `db:"id"`
	RunID     string    `db:"run_id"`
	Node      string    `db:"node"`
	Type      string    `db:"type"`
	CreatedAt time.Time `db:"created_at"`
	Payload   string    `db:"payload"`
}

// TraceRun summarizes the events stored for one run.
type TraceRun struct {
	RunID  string `db:"run_id"`
	Events int    `db:"events"`
	// Started is the textual timestamp of the first event.
	Started string `db:"started"`
}

// TraceRecorder persists run events into a traces table.
type TraceRecorder struct {
	db *sqlx.DB
}

func NewTraceRecorder(db *sqlx.DB) (*TraceRecorder, error) {
	if _, err := db.Exec(traceSchema); err != nil {
		return nil, errors.Wrap(err, "create traces table")
	}
	return &TraceRecorder{db: db}, nil
}

// Record stores ev. Recording the same event id twice is a no-op.
func (t *TraceRecorder) Record(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	meta := ev.Metadata()
	_, err = t.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO traces (id, run_id, node, type, created_at, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		meta.ID.String(), meta.RunID, meta.Node, string(ev.Type()), meta.Time, string(payload))
	return errors.Wrap(err, "insert trace")
}

// PublishEvent lets the recorder be used directly as a sink.
func (t *TraceRecorder) PublishEvent(ev Event) error {
	return t.Record(context.Background(), ev)
}

// Attach subscribes the recorder to the router's default topic.
func (t *TraceRecorder) Attach(r *EventRouter) {
	r.AddHandler("trace-recorder", DefaultTopic, EventHandler(t.Record))
}

func (t *TraceRecorder) Events(ctx context.Context, runID string) ([]TraceRow, error) {
	var rows []TraceRow
	err := t.db.SelectContext(ctx, &rows,
		`SELECT id, run_id, node, type, created_at, payload FROM traces WHERE run_id = ? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "select traces for run %s", runID)
	}
	return rows, nil
}

// Runs lists the most recent runs first.
func (t *TraceRecorder) Runs(ctx context.Context, limit int) ([]TraceRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []TraceRun
	err := t.db.SelectContext(ctx, &runs,
		`SELECT run_id, COUNT(*) AS events, MIN(created_at) AS started FROM traces GROUP BY run_id ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return runs, nil
}
